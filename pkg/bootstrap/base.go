package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"taskflow/internal/broker"
	"taskflow/internal/config"
	"taskflow/internal/logger"
	"taskflow/pkg/logging"
)

// Base carries what every service process shares: configuration, a logger
// named after the service and the broker client.
type Base struct {
	Config      *config.Config
	Logger      logger.Logger
	Broker      broker.Broker
	ServiceName string
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	return &Base{
		Config:      cfg,
		Logger:      log.Named(serviceName),
		ServiceName: serviceName,
	}
}

// Context returns ctx tagged with the service name for logging.
func (b *Base) Context(ctx context.Context) context.Context {
	return logging.WithServiceName(ctx, b.ServiceName)
}

// InitBroker connects the broker and declares the shared topology. A broker
// assigned before the call is used as-is instead of building one from config.
func (b *Base) InitBroker(ctx context.Context) error {
	if b.Broker == nil {
		br, err := broker.New(b.Config.Broker, b.Logger, b.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to create broker: %w", err)
		}
		b.Broker = br
	}

	if err := b.Broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect broker: %w", err)
	}

	topology := broker.DefaultTopology(b.Config.Broker.Exchange)
	if err := b.Broker.DeclareTopology(ctx, topology); err != nil {
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	b.Logger.InfowCtx(b.Context(ctx), "Broker ready",
		"type", b.Config.Broker.Type,
		"exchange", topology.Exchange,
	)
	return nil
}

// Exchange is the exchange every service publishes to.
func (b *Base) Exchange() string {
	return broker.DefaultTopology(b.Config.Broker.Exchange).Exchange
}

func (b *Base) ShutdownBroker() []error {
	if b.Broker == nil {
		return nil
	}
	if err := b.Broker.Disconnect(); err != nil {
		return []error{fmt.Errorf("broker disconnect error: %w", err)}
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(b.Context(ctx), "Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(b.Context(ctx), "Application exited successfully")
	return nil
}
