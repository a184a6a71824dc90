package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realm"
)

var (
	startRealmFSName string
	startOverlay     string
)

func createStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start REALM_NAME",
		Short: "start a realm, creating its config if this is the first start",
		Args:  cobra.ExactArgs(1),
		RunE:  executeStart,
	}
	cmd.Flags().StringVar(&startRealmFSName, "realmfs", "", "RealmFS image to bind a newly-created realm to (defaults to \"default\")")
	cmd.Flags().StringVar(&startOverlay, "overlay", "", "overlay mode for a newly-created realm: none, tmpfs, storage")
	return cmd
}

func executeStart(cmd *cobra.Command, args []string) error {
	name := args[0]
	roots := citadelcfg.DefaultRoots()

	r, err := realm.Open(name, roots)
	if errors.Is(err, os.ErrNotExist) {
		r, err = realm.Create(name, roots, realm.Config{RealmFSName: startRealmFSName, Overlay: startOverlay})
	}
	if err != nil {
		return fmt.Errorf("start: %v", err)
	}

	rm := newRealmManager()
	rm.Track(r)
	if err := r.Start(rm); err != nil {
		return fmt.Errorf("start: %v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", name)
	return nil
}
