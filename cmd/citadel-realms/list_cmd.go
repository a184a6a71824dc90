package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realm"
)

func createListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list realms known on disk",
		Args:  cobra.NoArgs,
		RunE:  executeList,
	}
}

func executeList(cmd *cobra.Command, args []string) error {
	roots := citadelcfg.DefaultRoots()
	realmsDir := filepath.Dir(roots.RealmDir(""))

	entries, err := os.ReadDir(realmsDir)
	if err != nil {
		return fmt.Errorf("list: read %s: %v", realmsDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "realm-") {
			continue
		}
		name := strings.TrimPrefix(e.Name(), "realm-")
		r, err := realm.Open(name, roots)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "list: %s: %v\n", name, err)
			continue
		}
		cfg := r.Config()
		fmt.Fprintf(cmd.OutOrStdout(), "%s\trealmfs=%s\toverlay=%s\n", name, cfg.RealmFSName, cfg.Overlay)
	}
	return nil
}
