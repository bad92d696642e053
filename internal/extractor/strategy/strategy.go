// Package strategy holds the task extraction strategies the extractor
// service can run against a conversation message.
package strategy

import (
	"context"
	"fmt"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/pkg/events"
)

// Draft is a task candidate found in a message, before it is given an id.
type Draft struct {
	Title       string
	Description string
	Priority    *events.Priority
	DueDate     *time.Time
	AssignedTo  *string
	Labels      []string
}

type Strategy interface {
	Name() string
	// Extract returns zero or more drafts. An error means the message could
	// not be analysed at all.
	Extract(ctx context.Context, msg events.MessageReceived) ([]Draft, error)
}

// Func adapts a plain function to Strategy.
type Func func(ctx context.Context, msg events.MessageReceived) ([]Draft, error)

func (f Func) Name() string { return "func" }

func (f Func) Extract(ctx context.Context, msg events.MessageReceived) ([]Draft, error) {
	return f(ctx, msg)
}

// New builds the strategy named by cfg.Strategy.
func New(cfg config.ExtractorConfig, log logger.Logger) (Strategy, error) {
	switch cfg.Strategy {
	case constants.StrategyLLM:
		return NewLLM(cfg.LLM, log), nil
	case constants.StrategyRules:
		return NewRules(), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy: %s", cfg.Strategy)
	}
}

func referenceTime(msg events.MessageReceived) time.Time {
	if msg.Timestamp != nil {
		return msg.Timestamp.UTC()
	}
	return time.Now().UTC()
}
