package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/bootselect"
	"github.com/subgraph/citadel/internal/cmdline"
)

func createBootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "run boot-time partition selection and construct /dev/mapper/rootfs",
		Long: `Boot enumerates every citadel-rootfs* partition, demotes stale
TRY_BOOT partitions to FAILED, verifies signatures and metainfo, ranks the
survivors, and activates the winner as /dev/mapper/rootfs (spec §2, §4.6).
Flags are read from the kernel command line, not from this command's args.`,
		Args: cobra.NoArgs,
		RunE: executeBoot,
	}
}

func executeBoot(cmd *cobra.Command, args []string) error {
	res, err := bootselect.Run(cmdline.Current())
	if err != nil {
		return fmt.Errorf("boot: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.DevicePath)
	fmt.Fprintf(cmd.ErrOrStderr(), "boot: selected %s (channel=%s version=%d) -> %s\n",
		res.Partition.Name, res.MetaInfo.Channel, res.MetaInfo.Version, res.DevicePath)
	return nil
}
