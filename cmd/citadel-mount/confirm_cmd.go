package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/bootselect"
	"github.com/subgraph/citadel/internal/partition"
)

func createConfirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm PARTITION_NAME",
		Short: "confirm a successful boot, transitioning TRY_BOOT to GOOD",
		Args:  cobra.ExactArgs(1),
		RunE:  executeConfirm,
	}
}

func executeConfirm(cmd *cobra.Command, args []string) error {
	name := args[0]
	parts, err := partition.Enumerate()
	if err != nil {
		return fmt.Errorf("confirm: enumerate partitions: %v", err)
	}
	for _, p := range parts {
		if p.Name != name {
			continue
		}
		if err := bootselect.ConfirmBoot(p); err != nil {
			return fmt.Errorf("confirm: %v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "confirmed %s\n", name)
		return nil
	}
	return fmt.Errorf("confirm: no partition named %q", name)
}

func createCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "tear down /dev/mapper/rootfs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootselect.Close(); err != nil {
				return fmt.Errorf("close: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "closed rootfs")
			return nil
		},
	}
}
