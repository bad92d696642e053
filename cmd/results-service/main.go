package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskflow/internal/constants"
	"taskflow/pkg/bootstrap"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceResults,
		Short: "Results Service for the task pipeline",
		Long:  "Results Service records task creation outcomes",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (falls back to CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the results service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap.LoadRuntime(configFile, constants.ServiceResults)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Results Service")

			return bootstrap.Serve(ctx, NewApp(cfg, log), log)
		},
	}
}
