package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "taskflow/cmd/ingestor-service/docs"
	"taskflow/internal/constants"
	"taskflow/pkg/bootstrap"
)

var (
	configFile string
)

// @title           Taskflow Ingestor API
// @version         1.0
// @description     Accepts conversation messages and publishes them to the task pipeline

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceIngestor,
		Short: "Ingestor Service for the task pipeline",
		Long:  "Ingestor Service accepts conversation messages over HTTP or the terminal and publishes them to the broker",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (falls back to CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP ingestion API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(false)
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Read messages interactively from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(true)
		},
	}
}

func run(interactive bool) error {
	cfg, log, err := bootstrap.LoadRuntime(configFile, constants.ServiceIngestor)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.InfowCtx(ctx, "Starting Ingestor Service", "interactive", interactive)

	return bootstrap.Serve(ctx, NewApp(cfg, log, interactive), log)
}
