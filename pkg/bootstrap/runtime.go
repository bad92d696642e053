package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/pkg/logging"
)

// Application is the lifecycle every service binary drives.
type Application interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// LoadRuntime resolves the config file (flag first, then CONFIG_FILE) and
// builds the process logger. An empty path runs on defaults and environment.
func LoadRuntime(configFile, serviceName string) (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog(serviceName)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile == "" {
		earlyLog.Info("No config file given, using defaults and environment")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

// Serve initializes app, runs it until ctx is done or it fails, and always
// shuts it down afterwards.
func Serve(ctx context.Context, app Application, log logger.Logger) error {
	if err := app.Initialize(ctx); err != nil {
		log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
			log.ErrorwCtx(ctx, "Shutdown after failed initialization", "error", shutdownErr)
		}
		return fmt.Errorf("initialize: %w", err)
	}

	log.InfowCtx(ctx, "Service running")
	runErr := app.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.ErrorwCtx(ctx, "Shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr == nil {
		log.InfowCtx(ctx, "Service shutdown complete")
	}
	return runErr
}
