package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realm"
)

func createStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop REALM_NAME",
		Short: "stop a running realm",
		Args:  cobra.ExactArgs(1),
		RunE:  executeStop,
	}
}

func executeStop(cmd *cobra.Command, args []string) error {
	name := args[0]
	rm := newRealmManager()

	r, ok := rm.Lookup(name)
	if !ok {
		var err error
		r, err = realm.Open(name, citadelcfg.DefaultRoots())
		if err != nil {
			return fmt.Errorf("stop: open %s: %v", name, err)
		}
		rm.Track(r)
	}

	if err := r.Stop(rm); err != nil {
		return fmt.Errorf("stop: %v", err)
	}
	rm.Untrack(name)

	fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", name)
	return nil
}
