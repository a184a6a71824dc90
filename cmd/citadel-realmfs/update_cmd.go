package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/keyring"
)

var updateDiscard bool

func createUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update REALMFS_NAME",
		Short: "open a working copy of a RealmFS image, shell into it, then apply or discard",
		Long: `Update opens a working copy of the named RealmFS (a private
unsealed copy when the source is sealed, the image itself otherwise),
activates it loop-backed, and shells into it via systemd-nspawn. When the
shell exits, unless --discard is given, a working copy of a sealed
source is re-sealed and rotated into place; an unsealed image keeps its
changes where it is.`,
		Args: cobra.ExactArgs(1),
		RunE: executeUpdate,
	}
	cmd.Flags().BoolVar(&updateDiscard, "discard", false, "discard the working copy instead of applying it")
	return cmd
}

func executeUpdate(cmd *cobra.Command, args []string) error {
	name := args[0]
	mgr := newManager()
	rfs, err := mgr.Open(name)
	if err != nil {
		return fmt.Errorf("update: open %s: %v", name, err)
	}

	session, err := rfs.Update()
	if err != nil {
		return fmt.Errorf("update: start session: %v", err)
	}

	shellErr := session.Shell()

	if updateDiscard || shellErr != nil {
		if cerr := session.Cleanup(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "update: cleanup: %v\n", cerr)
		}
		if shellErr != nil {
			return fmt.Errorf("update: shell: %v", shellErr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "discarded update to %s\n", name)
		return nil
	}

	if err := session.ApplyUpdate(keyring.DefaultKernelKeyring); err != nil {
		return fmt.Errorf("update: apply: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied update to %s\n", name)
	return nil
}
