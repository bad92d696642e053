package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/ingestor"
	"taskflow/internal/logger"
	"taskflow/internal/store"
	"taskflow/pkg/bootstrap"
	"taskflow/pkg/health"
	"taskflow/pkg/metrics"
	"taskflow/pkg/middleware"
	"taskflow/pkg/ratelimit"
	"taskflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	service        *ingestor.Service
	limiter        *ratelimit.PerIP
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider

	// interactive reads messages from stdin instead of serving HTTP.
	interactive bool
}

func NewApp(cfg *config.Config, log logger.Logger, interactive bool) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceIngestor),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		interactive: interactive,
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
	metrics.RegisterIngestorMetrics()
	metrics.RegisterDatabaseMetrics()

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	opts := []ingestor.Option{ingestor.WithDefaultSource(a.Config.Ingestor.DefaultSource)}
	if a.db != nil {
		opts = append(opts, ingestor.WithStore(store.NewPostgresStore(a.db, a.ServiceName)))
	}
	a.service = ingestor.NewService(a.Broker, a.Exchange(), a.Logger, opts...)

	if !a.interactive {
		a.initRouter(ctx)
		a.server = a.NewHTTPServer(a.router)
	}
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(a.ServiceName)...)
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	healthRegistry := health.NewCheckerRegistry(a.ServiceName)
	healthRegistry.Register(health.NewBrokerChecker(a.Broker))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db, true))
	}
	router.GET("/health", gin.WrapF(healthRegistry.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("")
	rl := a.Config.Ingestor.RateLimit
	if rl.Enabled {
		a.limiter = ratelimit.NewPerIP(ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		})
		api.Use(a.limiter.Middleware())
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	ingestor.NewHandler(a.service, a.Logger, a.Config.Ingestor.MaxBatchSize).RegisterRoutes(api)
	a.router = router
}

// Run serves the HTTP API until ctx is cancelled, or drives the terminal
// prompt in interactive mode.
func (a *App) Run(ctx context.Context) error {
	if a.interactive {
		return ingestor.RunInteractive(a.Context(ctx), a.service, os.Stdin, os.Stdout)
	}

	g, gCtx := errgroup.WithContext(a.Context(ctx))

	g.Go(func() error {
		return a.ServeHTTP(gCtx, a.server)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

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
