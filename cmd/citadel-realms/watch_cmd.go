package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/eventbus"
)

func createWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "print realm lifecycle events until interrupted",
		Long: `Watch starts an eventbus.Listener over the realms directory
(inotify) and the system bus (machine1 signals) and prints each event as
it arrives (spec §5), until interrupted with SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: executeWatch,
	}
}

func executeWatch(cmd *cobra.Command, args []string) error {
	roots := citadelcfg.DefaultRoots()
	listener := eventbus.New(roots)
	listener.AddHandler(func(ev eventbus.Event) {
		fmt.Fprintln(cmd.OutOrStdout(), ev.String())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("watch: %v", err)
	}
	<-ctx.Done()
	_ = os.Stdout.Sync()
	return listener.Stop()
}
