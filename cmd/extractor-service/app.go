package main

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/extractor"
	"taskflow/internal/extractor/strategy"
	"taskflow/internal/logger"
	"taskflow/pkg/bootstrap"
	"taskflow/pkg/health"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	service        *extractor.Service
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log, constants.ServiceExtractor),
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
	metrics.RegisterExtractorMetrics()

	s, err := strategy.New(a.Config.Extractor, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create extraction strategy: %w", err)
	}
	a.Logger.InfowCtx(ctx, "Extraction strategy selected", "strategy", s.Name())

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.service = extractor.NewService(a.Broker, a.Exchange(), s, a.Logger)

	healthRegistry := health.NewCheckerRegistry(a.ServiceName)
	healthRegistry.Register(health.NewBrokerChecker(a.Broker))
	a.server = a.NewMonitoringServer(healthRegistry)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(a.Context(ctx))

	g.Go(func() error {
		return a.ServeHTTP(gCtx, a.server)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming messages", "queue", constants.QueueConversationMessages)
		return a.Broker.Consume(gCtx, constants.QueueConversationMessages, a.service.Handle)
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
		return errs
	}

	return a.Base.Shutdown(a.Context(ctx), additionalShutdown)
}
