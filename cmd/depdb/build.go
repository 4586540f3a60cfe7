package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/steveyegge/depdb/internal/driver"
)

var buildCmd = &cobra.Command{
	Use:   "build <target> [target...]",
	Short: "Build one or more targets, rebuilding anything stale",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, targets []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var tel *driver.Telemetry
	if otelStdout {
		t, err := driver.Setup(ctx)
		if err != nil {
			return fmt.Errorf("depdb: telemetry setup: %w", err)
		}
		tel = t
		defer func() { _ = tel.Shutdown(context.Background()) }()
	}

	d, err := driver.Open(driver.Options{
		DatabasePath: dbPath,
		RulesPath:    rulesPath,
		Jobs:         jobs,
	})
	if err != nil {
		return fmt.Errorf("depdb: open: %w", err)
	}
	defer func() { _ = d.Close() }()

	if watch {
		return d.Watch(ctx, targets)
	}

	values, err := d.Build(ctx, targets)
	if err != nil {
		return fmt.Errorf("depdb: build: %w", err)
	}
	for i, target := range targets {
		fmt.Printf("%s = %v\n", target, values[i])
	}
	return nil
}
