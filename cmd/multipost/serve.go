package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the post queue and HTTP API",
	Long: `Run the multipost daemon: the post queue, the scheduler that enqueues
scheduled submissions and probes login status, and the HTTP API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, (*config.Config).ValidateForServe)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("starting multipost daemon",
		"http_addr", a.Config.HTTPAddr,
		"sites", a.Registry.IDs(),
		"schedule_spec", a.Config.ScheduleSpec,
	)

	if err := a.Serve(ctx); err != nil {
		return err
	}

	slog.Info("shut down")
	return nil
}
