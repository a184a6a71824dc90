// Command citadel-mkimage runs the build pipeline (spec §4.9) that turns
// a raw payload plus a TOML build-config into a signed, verity-sealed
// Citadel resource image, wired the way the teacher's
// cmd/os-image-composer root command dispatches to its build/validate
// subcommands.
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
		Use:           "citadel-mkimage",
		Short:         "Build signed, verity-sealed Citadel resource images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(cmdline.Current().Verbose())
			return nil
		},
	}
	root.AddCommand(createBuildCommand())
	root.AddCommand(createValidateCommand())
	return root
}
