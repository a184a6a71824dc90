package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/keyring"
)

var forkUnsealed bool

func createForkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fork SOURCE_NAME NEW_NAME",
		Short: "fork a RealmFS image under a new name",
		Long: `Fork copies a sealed RealmFS image and re-signs the copy under a
new identity, preserving its verity salt and root hash. With --unsealed,
the copy is unsealed instead, for use as a private working copy.`,
		Args: cobra.ExactArgs(2),
		RunE: executeFork,
	}
	cmd.Flags().BoolVar(&forkUnsealed, "unsealed", false, "produce an unsealed fork instead of a re-signed sealed one")
	return cmd
}

func executeFork(cmd *cobra.Command, args []string) error {
	sourceName, newName := args[0], args[1]
	mgr := newManager()
	rfs, err := mgr.Open(sourceName)
	if err != nil {
		return fmt.Errorf("fork: open %s: %v", sourceName, err)
	}

	if forkUnsealed {
		if _, err := rfs.ForkUnsealed(newName); err != nil {
			return fmt.Errorf("fork: %v", err)
		}
	} else {
		if _, err := rfs.Fork(newName, keyring.DefaultKernelKeyring); err != nil {
			return fmt.Errorf("fork: %v", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "forked %s -> %s\n", sourceName, newName)
	return nil
}
