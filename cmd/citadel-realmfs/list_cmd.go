package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realmfs"
)

func createListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list known RealmFS images by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := realmfs.ListNames(citadelcfg.DefaultRoots())
			if err != nil {
				return fmt.Errorf("list: %v", err)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
