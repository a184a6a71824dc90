package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/resourceimage"
)

func createResourceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resource RESOURCE_NAME",
		Short: "locate, stage, and mount a named resource image",
		Long: `Resource locates a resource image (storage dir first, falling
back to a boot-media EFI partition scan when install/live/recovery mode
requires it), stages it into the run-root images directory, decompresses
its payload if needed, and mounts it - through dm-verity by default, or
loop-backed when citadel.noverity is set (spec §4.5).`,
		Args: cobra.ExactArgs(1),
		RunE: executeResource,
	}
}

func executeResource(cmd *cobra.Command, args []string) error {
	name := args[0]
	cl := cmdline.Current()
	roots := citadelcfg.DefaultRoots()

	found, err := resourceimage.Locate(name, roots, resourceimage.ModeFromCmdline(cl))
	if err != nil {
		return fmt.Errorf("resource: locate %s: %v", name, err)
	}

	imagePath, err := resourceimage.Stage(found, name, roots)
	if err != nil {
		return fmt.Errorf("resource: stage %s: %v", name, err)
	}

	if found.Compressed {
		if err := resourceimage.DecompressPayloadInPlace(imagePath); err != nil {
			return fmt.Errorf("resource: decompress %s: %v", name, err)
		}
	}

	mountpoint, err := resourceimage.Mount(resourceimage.MountConfig{
		Name:      name,
		ImagePath: imagePath,
		Roots:     roots,
	}, cl)
	if err != nil {
		return fmt.Errorf("resource: mount %s: %v", name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", mountpoint)
	return nil
}
