package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	growToBytes int64
	growByBytes int64
	growAuto    bool
)

func createGrowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grow REALMFS_NAME",
		Short: "grow an unsealed RealmFS image's backing file and filesystem",
		Long: `Grow resizes an unsealed RealmFS image's file and ext filesystem.
Exactly one of --to, --by, or --auto must be given. --auto checks the
image's free space and, only if it is below the 1 GiB threshold, grows
the image by its free-block count rounded up to a multiple of 4 GiB
(spec §4.7).`,
		Args: cobra.ExactArgs(1),
		RunE: executeGrow,
	}
	cmd.Flags().Int64Var(&growToBytes, "to", 0, "grow the image to this total size in bytes")
	cmd.Flags().Int64Var(&growByBytes, "by", 0, "grow the image by this many bytes")
	cmd.Flags().BoolVar(&growAuto, "auto", false, "grow automatically if free space is low")
	return cmd
}

func executeGrow(cmd *cobra.Command, args []string) error {
	name := args[0]
	set := 0
	if growToBytes > 0 {
		set++
	}
	if growByBytes > 0 {
		set++
	}
	if growAuto {
		set++
	}
	if set != 1 {
		return fmt.Errorf("grow: exactly one of --to, --by, --auto is required")
	}

	mgr := newManager()
	rfs, err := mgr.Open(name)
	if err != nil {
		return fmt.Errorf("grow: open %s: %v", name, err)
	}

	switch {
	case growToBytes > 0:
		if err := rfs.GrowTo(growToBytes); err != nil {
			return fmt.Errorf("grow: %v", err)
		}
	case growByBytes > 0:
		if err := rfs.GrowBy(growByBytes); err != nil {
			return fmt.Errorf("grow: %v", err)
		}
	case growAuto:
		suggested, needsGrow, err := rfs.AutoResizeSize()
		if err != nil {
			return fmt.Errorf("grow: check free space: %v", err)
		}
		if !needsGrow {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no grow needed\n", name)
			return nil
		}
		if err := rfs.GrowBy(suggested); err != nil {
			return fmt.Errorf("grow: %v", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "grew %s\n", name)
	return nil
}
