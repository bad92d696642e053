// Package platform consumes extracted tasks, creates them on a task platform
// and reports each outcome as task.created or task.failed.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskflow/internal/broker"
	"taskflow/internal/logger"
	"taskflow/internal/platform/provider"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/logging"
	"taskflow/pkg/metrics"
)

// Outcome of handling one task.
const (
	StateCreated = "created"
	StateFailed  = "failed"
)

// MetadataPlatformKey lets a task ask for a platform other than the default.
const MetadataPlatformKey = "platform"

type Service struct {
	publisher broker.Publisher
	exchange  string
	registry  *provider.Registry
	logger    logger.Logger
	now       func() time.Time
}

func NewService(publisher broker.Publisher, exchange string, registry *provider.Registry, log logger.Logger) *Service {
	return &Service{
		publisher: publisher,
		exchange:  exchange,
		registry:  registry,
		logger:    log,
		now:       events.Now,
	}
}

// Handle is the broker handler for the extracted_tasks queue.
func (s *Service) Handle(ctx context.Context, _ string, event events.Event) error {
	task, ok := event.(events.TaskExtracted)
	if !ok {
		s.logger.WarnwCtx(ctx, "Ignoring unexpected event", "event_type", event.EventType())
		return nil
	}
	return s.Process(ctx, task)
}

func targetPlatform(task events.TaskExtracted, fallback string) string {
	if name, ok := task.Metadata[MetadataPlatformKey].(string); ok && name != "" {
		return name
	}
	return fallback
}

// Process creates task on its platform. On success a TaskCreated event is
// published. On any failure a TaskFailed event is published and the
// platform error is returned.
func (s *Service) Process(ctx context.Context, task events.TaskExtracted) error {
	ctx = logging.WithTaskID(ctx, task.TaskID)
	platformName := targetPlatform(task, s.registry.Default())
	s.logger.InfowCtx(ctx, "Processing extracted task", "title", task.Title, "platform", platformName)

	start := time.Now()
	result, err := s.create(ctx, platformName, task)
	metrics.ObservePlatformDuration(platformName, time.Since(start))
	if err != nil {
		metrics.IncPlatformTask(platformName, StateFailed)
		s.logger.ErrorwCtx(ctx, "Error creating task", "platform", platformName, "error", err)
		s.publishFailure(ctx, platformName, task, err)
		return err
	}
	metrics.IncPlatformTask(platformName, StateCreated)

	created := events.TaskCreated{
		TaskID:         task.TaskID,
		Platform:       platformName,
		PlatformTaskID: result.PlatformTaskID,
		Title:          task.Title,
		CreatedAt:      s.now(),
		PlatformURL:    result.URL,
		Metadata: events.Metadata{
			"original_source":   task.Metadata["source"],
			"original_author":   task.Metadata["original_author"],
			"source_message_id": task.SourceMessageID,
		},
	}
	if err := s.publisher.Publish(ctx, s.exchange, created.EventType().RoutingKey(), created); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish task created event", "platform_task_id", result.PlatformTaskID, "error", err)
		return err
	}

	s.logger.InfowCtx(ctx, "Task created successfully", "platform", platformName, "platform_task_id", result.PlatformTaskID)
	return nil
}

func (s *Service) create(ctx context.Context, platformName string, task events.TaskExtracted) (provider.Result, error) {
	p, err := s.registry.Get(platformName)
	if err != nil {
		return provider.Result{}, err
	}
	return p.CreateTask(ctx, task)
}

func (s *Service) publishFailure(ctx context.Context, platformName string, task events.TaskExtracted, cause error) {
	original, err := originalTask(task)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to attach original task to failure event", "error", err)
	}

	code := apperrors.Code(cause)
	if code == "" {
		code = apperrors.ErrPlatform.Code
	}

	failed := events.TaskFailed{
		TaskID:       task.TaskID,
		Platform:     platformName,
		Title:        task.Title,
		ErrorMessage: cause.Error(),
		ErrorCode:    events.String(code),
		FailedAt:     s.now(),
		Metadata: events.Metadata{
			"original_task":     original,
			"source_message_id": task.SourceMessageID,
		},
	}
	if err := s.publisher.Publish(ctx, s.exchange, failed.EventType().RoutingKey(), failed); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish task failed event", "error", err)
	}
}

// originalTask renders task as a generic JSON object so it survives the
// round trip inside metadata unchanged.
func originalTask(task events.TaskExtracted) (map[string]interface{}, error) {
	body, err := events.Encode(task)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode original task: %w", err)
	}
	return out, nil
}
