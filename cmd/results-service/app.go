package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/internal/results"
	"taskflow/internal/store"
	"taskflow/pkg/bootstrap"
	"taskflow/pkg/health"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	sink           *results.Sink
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceResults),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = a.Context(ctx)

	tp, err := tracing.Init(a.Config.Tracing, a.ServiceName, a.Config.Broker.Type)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterResultsMetrics()
	metrics.RegisterDatabaseMetrics()

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	// A typed nil store would look non-nil to the sink.
	var resultStore store.ResultStore
	if a.db != nil {
		resultStore = store.NewPostgresStore(a.db, a.ServiceName)
	} else {
		a.Logger.WarnwCtx(ctx, "No result store configured, outcomes are only logged")
	}
	a.sink = results.NewSink(resultStore, a.Logger)

	healthRegistry := health.NewCheckerRegistry(a.ServiceName)
	healthRegistry.Register(health.NewBrokerChecker(a.Broker))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db, false))
	}
	a.server = a.NewMonitoringServer(healthRegistry)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(a.Context(ctx))

	g.Go(func() error {
		return a.ServeHTTP(gCtx, a.server)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming results", "queue", constants.QueueTaskResults)
		return a.Broker.Consume(gCtx, constants.QueueTaskResults, a.sink.Handle)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.ShutdownHTTP(a.server)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if err := a.ShutdownHTTP(a.server); err != nil {
			errs = append(errs, err)
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(nil, a.db)...)
		return errs
	}

	return a.Base.Shutdown(a.Context(ctx), additionalShutdown)
}
