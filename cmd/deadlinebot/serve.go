package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"deadlinebot/internal/app"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reminder service",
	Long:  "Runs the sweeps, fires daily digests and serves the HTTP trigger surface when enabled.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			if a.Err() != nil {
				reason = app.StopFatalError
			}
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}
