package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/internal/platform"
	"taskflow/internal/platform/provider"
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
	redisClient    *redis.Client
	registry       *provider.Registry
	service        *platform.Service
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServicePlatformManager),
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
	metrics.RegisterPlatformMetrics()
	metrics.RegisterDatabaseMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	registry, err := a.buildRegistry()
	if err != nil {
		return fmt.Errorf("failed to build platform registry: %w", err)
	}
	a.registry = registry
	a.Logger.InfowCtx(ctx, "Platforms registered",
		"platforms", registry.Names(),
		"default", registry.Default(),
	)

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.service = platform.NewService(a.Broker, a.Exchange(), a.registry, a.Logger)

	healthRegistry := health.NewCheckerRegistry(a.ServiceName)
	healthRegistry.Register(health.NewBrokerChecker(a.Broker))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db, false))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	a.server = a.NewMonitoringServer(healthRegistry)
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	for _, name := range a.Config.Platform.Enabled {
		switch name {
		case constants.PlatformPostgres:
			db, err := a.dbConnector.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			a.db = db
		case constants.PlatformRedis:
			client, err := a.dbConnector.InitRedis(ctx)
			if err != nil {
				return err
			}
			a.redisClient = client
		}
	}
	return nil
}

func (a *App) buildRegistry() (*provider.Registry, error) {
	var providers []provider.Provider
	for _, name := range a.Config.Platform.Enabled {
		var p provider.Provider
		switch name {
		case constants.PlatformConsole:
			p = provider.NewConsole(name, a.Logger)
		case constants.PlatformRedis:
			if a.redisClient == nil {
				return nil, fmt.Errorf("platform %s needs a redis connection", name)
			}
			p = provider.NewRedis(a.redisClient)
		case constants.PlatformPostgres:
			if a.db == nil {
				return nil, fmt.Errorf("platform %s needs a postgres connection", name)
			}
			p = provider.NewPostgres(store.NewPostgresStore(a.db, a.ServiceName))
		default:
			return nil, fmt.Errorf("unknown platform: %s", name)
		}

		if a.Config.CircuitBreaker.Enabled {
			p = provider.NewBreaker(p, a.Config.CircuitBreaker)
		}
		providers = append(providers, p)
	}
	return provider.NewRegistry(a.Config.Platform.Default, providers...)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(a.Context(ctx))

	g.Go(func() error {
		return a.ServeHTTP(gCtx, a.server)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming tasks", "queue", constants.QueueExtractedTasks)
		return a.Broker.Consume(gCtx, constants.QueueExtractedTasks, a.service.Handle)
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

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redisClient, a.db)...)
		return errs
	}

	return a.Base.Shutdown(a.Context(ctx), additionalShutdown)
}
