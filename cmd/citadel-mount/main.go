// Command citadel-mount drives boot-time A/B partition selection (spec
// §2, §4.6) and resource-image locate/stage/mount (spec §4.5), wired as
// a thin cobra CLI over internal/bootselect, internal/partition, and
// internal/resourceimage the way the teacher's cmd/os-image-composer
// wires domain packages behind one root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/logger"
)

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "citadel-mount",
		Short:         "Select and mount the boot partition, locate and mount resource images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(cmdline.Current().Verbose())
			return nil
		},
	}
	root.AddCommand(createBootCommand())
	root.AddCommand(createConfirmCommand())
	root.AddCommand(createCloseCommand())
	root.AddCommand(createResourceCommand())
	return root
}
