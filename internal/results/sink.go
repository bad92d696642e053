// Package results consumes task outcomes and records them.
package results

import (
	"context"

	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/internal/store"
	"taskflow/pkg/events"
	"taskflow/pkg/metrics"
)

type Sink struct {
	store  store.ResultStore
	logger logger.Logger
}

// NewSink builds a sink. A nil store only logs and counts outcomes.
func NewSink(s store.ResultStore, log logger.Logger) *Sink {
	return &Sink{store: s, logger: log}
}

// Handle is the broker handler for the task_results queue. A store failure
// is returned so the outcome is not silently acknowledged.
func (s *Sink) Handle(ctx context.Context, _ string, event events.Event) error {
	var rec store.TaskRecord

	switch e := event.(type) {
	case events.TaskCreated:
		metrics.IncTaskResult(string(e.EventType()), e.Platform)
		s.logger.InfowCtx(ctx, "Task created",
			"platform", e.Platform,
			"platform_task_id", e.PlatformTaskID,
			"title", e.Title,
		)
		rec = store.TaskRecord{
			TaskID:          e.TaskID,
			SourceMessageID: metadataString(e.Metadata, "source_message_id"),
			Title:           e.Title,
			Platform:        e.Platform,
			PlatformTaskID:  e.PlatformTaskID,
			PlatformURL:     e.PlatformURL,
			Status:          constants.TaskStatusCreated,
			UpdatedAt:       e.CreatedAt,
		}
	case events.TaskFailed:
		metrics.IncTaskResult(string(e.EventType()), e.Platform)
		s.logger.WarnwCtx(ctx, "Task failed",
			"platform", e.Platform,
			"title", e.Title,
			"error_message", e.ErrorMessage,
		)
		rec = store.TaskRecord{
			TaskID:          e.TaskID,
			SourceMessageID: metadataString(e.Metadata, "source_message_id"),
			Title:           e.Title,
			Platform:        e.Platform,
			Status:          constants.TaskStatusFailed,
			ErrorMessage:    e.ErrorMessage,
			ErrorCode:       e.ErrorCode,
			UpdatedAt:       e.FailedAt,
		}
		if rec.SourceMessageID == "" {
			if original, ok := e.Metadata["original_task"].(map[string]interface{}); ok {
				rec.SourceMessageID, _ = original["source_message_id"].(string)
			}
		}
	default:
		s.logger.WarnwCtx(ctx, "Ignoring unexpected event", "event_type", event.EventType())
		return nil
	}

	if s.store == nil {
		return nil
	}
	if err := s.store.RecordTaskResult(ctx, rec); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record task result", "error", err)
		return err
	}
	return nil
}

func metadataString(m events.Metadata, key string) string {
	s, _ := m[key].(string)
	return s
}
