package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func createActivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activate REALMFS_NAME",
		Short: "activate a RealmFS image, mounting it verity-sealed or loop-backed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr := newManager()
			rfs, err := mgr.Open(name)
			if err != nil {
				return fmt.Errorf("activate: open %s: %v", name, err)
			}
			act, err := rfs.Activate()
			if err != nil {
				return fmt.Errorf("activate: %v", err)
			}
			for _, mp := range act.Mountpoints() {
				fmt.Fprintln(cmd.OutOrStdout(), mp)
			}
			return nil
		},
	}
}

func createDeactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate REALMFS_NAME",
		Short: "deactivate a RealmFS image",
		Long: `Deactivate tears down a RealmFS's verity device or loop mounts.
This standalone invocation has no view of other realms' live refcounts,
so it always passes an empty in-use set - run it only when no realm is
known to still be using the image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr := newManager()
			rfs, err := mgr.Open(name)
			if err != nil {
				return fmt.Errorf("deactivate: open %s: %v", name, err)
			}
			if err := rfs.Deactivate(map[string]bool{}); err != nil {
				return fmt.Errorf("deactivate: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", name)
			return nil
		},
	}
}
