// Package extractor consumes conversation messages and publishes one
// task.extracted event per task found in them.
package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/broker"
	"taskflow/internal/extractor/strategy"
	"taskflow/internal/logger"
	"taskflow/pkg/events"
	"taskflow/pkg/logging"
	"taskflow/pkg/metrics"
)

// Outcome of handling one message.
const (
	StatePublished = "published"
	StateSkipped   = "skipped"
	StateErrored   = "errored"
)

type Service struct {
	publisher broker.Publisher
	exchange  string
	strategy  strategy.Strategy
	logger    logger.Logger
	newID     func() string
}

func NewService(publisher broker.Publisher, exchange string, s strategy.Strategy, log logger.Logger) *Service {
	return &Service{
		publisher: publisher,
		exchange:  exchange,
		strategy:  s,
		logger:    log,
		newID:     uuid.NewString,
	}
}

// Handle is the broker handler for the conversation_messages queue.
func (s *Service) Handle(ctx context.Context, _ string, event events.Event) error {
	msg, ok := event.(events.MessageReceived)
	if !ok {
		s.logger.WarnwCtx(ctx, "Ignoring unexpected event", "event_type", event.EventType())
		return nil
	}
	_, err := s.Process(ctx, msg)
	return err
}

// Process runs extraction on msg and publishes the resulting tasks. It
// reports the terminal state; only a strategy failure is returned as an
// error. Individual publish failures are logged and do not stop the rest.
func (s *Service) Process(ctx context.Context, msg events.MessageReceived) (string, error) {
	ctx = logging.WithMessageID(ctx, msg.MessageID)
	name := s.strategy.Name()
	s.logger.InfowCtx(ctx, "Processing message", "author", msg.Author, "strategy", name)

	start := time.Now()
	drafts, err := s.strategy.Extract(ctx, msg)
	metrics.ObserveExtractionDuration(name, time.Since(start))
	if err != nil {
		metrics.IncExtraction(name, StateErrored)
		s.logger.ErrorwCtx(ctx, "Task extraction failed", "error", err)
		return StateErrored, err
	}

	if len(drafts) == 0 {
		metrics.IncExtraction(name, StateSkipped)
		s.logger.InfowCtx(ctx, "No tasks extracted")
		return StateSkipped, nil
	}

	published := 0
	for _, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			metrics.IncExtractedTask(name, "discarded")
			s.logger.WarnwCtx(ctx, "Discarding task without title", "description", d.Description)
			continue
		}

		task := s.buildTask(msg, d)
		taskCtx := logging.WithTaskID(ctx, task.TaskID)
		if err := s.publisher.Publish(taskCtx, s.exchange, task.EventType().RoutingKey(), task); err != nil {
			metrics.IncExtractedTask(name, "failed")
			s.logger.ErrorwCtx(taskCtx, "Failed to publish extracted task", "title", task.Title, "error", err)
			continue
		}
		published++
		metrics.IncExtractedTask(name, "published")
		s.logger.InfowCtx(taskCtx, "Extracted task", "title", task.Title)
	}

	metrics.IncExtraction(name, StatePublished)
	s.logger.InfowCtx(ctx, "Message processed", "drafts", len(drafts), "published", published)
	return StatePublished, nil
}

func (s *Service) buildTask(msg events.MessageReceived, d strategy.Draft) events.TaskExtracted {
	labels := d.Labels
	if labels == nil {
		labels = []string{}
	}

	metadata := events.Metadata{
		"source":          msg.Source,
		"original_author": msg.Author,
		"channel":         nil,
	}
	if msg.Channel != nil {
		metadata["channel"] = *msg.Channel
	}

	priority := d.Priority
	if priority != nil && !priority.Valid() {
		priority = nil
	}

	return events.TaskExtracted{
		TaskID:          s.newID(),
		SourceMessageID: msg.MessageID,
		Title:           strings.TrimSpace(d.Title),
		Description:     d.Description,
		Priority:        priority,
		DueDate:         d.DueDate,
		AssignedTo:      d.AssignedTo,
		Labels:          labels,
		Metadata:        metadata,
	}
}
