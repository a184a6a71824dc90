// Command citadel-realmfs manages RealmFS pool images (spec §4.7): seal,
// unseal, fork, grow, activate/deactivate, and live-update a shared
// filesystem image, wired as one root cobra command the way the
// teacher's cmd/os-image-composer wires its subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
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
		Use:           "citadel-realmfs",
		Short:         "Manage RealmFS pool images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(cmdline.Current().Verbose())
			return nil
		},
	}
	root.AddCommand(createListCommand())
	root.AddCommand(createSealCommand())
	root.AddCommand(createUnsealCommand())
	root.AddCommand(createForkCommand())
	root.AddCommand(createGrowCommand())
	root.AddCommand(createActivateCommand())
	root.AddCommand(createDeactivateCommand())
	root.AddCommand(createUpdateCommand())
	return root
}

// newManager builds the package-wide realmfs.Manager against the
// default roots and kernel keyring, shared by every subcommand.
func newManager() *realmfs.Manager {
	return realmfs.NewManager(citadelcfg.DefaultRoots(), keyring.DefaultKernelKeyring, defaultMaxBridgeSlots)
}
