// Command citadel-realms is the thin orchestrator for realm lifecycle
// (spec §1, §4.8): create/open realm configs, start/stop them against a
// shared RealmManager, list known realms, and watch realm lifecycle
// events. Wired as one root cobra command, the teacher's convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
	"github.com/subgraph/citadel/internal/realm"
	"github.com/subgraph/citadel/internal/realmfs"
)

const defaultMaxBridgeSlots = 8

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "citadel-realms",
		Short:         "Start, stop, and inspect Citadel realms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(cmdline.Current().Verbose())
			return nil
		},
	}
	root.AddCommand(createStartCommand())
	root.AddCommand(createStopCommand())
	root.AddCommand(createListCommand())
	root.AddCommand(createWatchCommand())
	return root
}

// newRealmManager builds the package-wide realm.RealmManager over a
// realmfs.Manager bound to the default roots and kernel keyring, shared
// by every subcommand. Citadel's realm boundary (spec §1) keeps this
// binary a thin orchestrator: it never touches dm-verity, loop devices,
// or overlay mounts directly, only through internal/realm.
func newRealmManager() *realm.RealmManager {
	roots := citadelcfg.DefaultRoots()
	fs := realmfs.NewManager(roots, keyring.DefaultKernelKeyring, defaultMaxBridgeSlots)
	return realm.NewRealmManager(roots, fs)
}
