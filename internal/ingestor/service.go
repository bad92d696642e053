// Package ingestor turns incoming conversation messages into
// conversation.message_received events.
package ingestor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/broker"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/internal/store"
	"taskflow/pkg/events"
	"taskflow/pkg/logging"
	"taskflow/pkg/metrics"
)

type Service struct {
	publisher     broker.Publisher
	exchange      string
	store         store.MessageStore
	defaultSource string
	logger        logger.Logger
	now           func() time.Time
	newID         func() string
}

type Option func(*Service)

// WithStore records every published message. Store failures are logged and
// never fail the ingestion.
func WithStore(s store.MessageStore) Option {
	return func(svc *Service) { svc.store = s }
}

func WithDefaultSource(source string) Option {
	return func(svc *Service) {
		if source != "" {
			svc.defaultSource = source
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(svc *Service) { svc.newID = newID }
}

func NewService(publisher broker.Publisher, exchange string, log logger.Logger, opts ...Option) *Service {
	svc := &Service{
		publisher:     publisher,
		exchange:      exchange,
		defaultSource: constants.DefaultMessageSource,
		logger:        log,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// IngestMessage publishes msg as a MessageReceived event and returns the
// generated message id. A publish failure is returned as-is.
func (s *Service) IngestMessage(ctx context.Context, msg Message) (string, error) {
	source := msg.Source
	if source == "" {
		source = s.defaultSource
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = events.Metadata{}
	}

	event := events.MessageReceived{
		MessageID: s.newID(),
		Source:    source,
		Content:   msg.Content,
		Author:    msg.Author,
		Timestamp: events.Time(s.now()),
		Channel:   msg.Channel,
		Metadata:  metadata,
	}

	ctx = logging.WithMessageID(ctx, event.MessageID)
	routingKey := event.EventType().RoutingKey()

	if err := s.publisher.Publish(ctx, s.exchange, routingKey, event); err != nil {
		metrics.IncIngested(source, "failed")
		s.logger.ErrorwCtx(ctx, "Failed to ingest message", "error", err, "source", source)
		return "", err
	}
	metrics.IncIngested(source, "ok")

	s.logger.InfowCtx(ctx, "Ingested message",
		"author", msg.Author,
		"source", source,
	)

	if s.store != nil {
		if err := s.store.CreateMessage(ctx, store.MessageFromEvent(event)); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to record ingested message", "error", err)
		}
	}

	return event.MessageID, nil
}

// IngestBatch ingests each message independently and returns the ids of the
// ones that were published, in input order. It never fails.
func (s *Service) IngestBatch(ctx context.Context, msgs []Message) []string {
	ids := make([]string, 0, len(msgs))
	for i, msg := range msgs {
		id, err := s.IngestMessage(ctx, msg)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Skipping message in batch", "index", i, "error", err)
			continue
		}
		ids = append(ids, id)
	}

	s.logger.InfowCtx(ctx, "Ingested batch", "submitted", len(msgs), "accepted", len(ids))
	return ids
}
