// Command citadel-image inspects, signs, and verifies the 4096-byte
// header and TOML metainfo carried by every Citadel resource image,
// built the way the teacher's cmd/os-image-composer wires its
// inspect/compare subcommands under one root command.
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
		Use:           "citadel-image",
		Short:         "Inspect, sign, and verify Citadel resource image headers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(cmdline.Current().Verbose())
			return nil
		},
	}
	root.AddCommand(createInspectCommand())
	root.AddCommand(createSignCommand())
	root.AddCommand(createVerifyCommand())
	return root
}
