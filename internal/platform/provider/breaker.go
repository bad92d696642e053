package provider

import (
	"context"

	"taskflow/internal/config"
	"taskflow/pkg/circuitbreaker"
	"taskflow/pkg/events"
)

// Breaker guards a provider with a circuit breaker. While open, calls fail
// fast with CIRCUIT_OPEN.
type Breaker struct {
	next    Provider
	wrapper *circuitbreaker.Wrapper
}

func NewBreaker(next Provider, cfg config.CircuitBreakerConfig) *Breaker {
	cbCfg := circuitbreaker.DefaultConfig("platform-" + next.Name())
	if cfg.MaxRequests > 0 {
		cbCfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbCfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbCfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		cbCfg.FailureRatio = cfg.FailureRatio
	}
	if cfg.MinRequests > 0 {
		cbCfg.MinRequests = cfg.MinRequests
	}
	return &Breaker{next: next, wrapper: circuitbreaker.NewWrapper(cbCfg)}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) CreateTask(ctx context.Context, task events.TaskExtracted) (Result, error) {
	out, err := b.wrapper.Execute(ctx, func() (interface{}, error) {
		return b.next.CreateTask(ctx, task)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (b *Breaker) IsOpen() bool {
	return b.wrapper.IsOpen()
}
