package provider

import (
	"context"

	"taskflow/internal/constants"
	"taskflow/internal/store"
	"taskflow/pkg/events"
)

// Postgres puts tasks on the platform_tasks board table.
type Postgres struct {
	store store.PlatformTaskStore
}

func NewPostgres(s store.PlatformTaskStore) *Postgres {
	return &Postgres{store: s}
}

func (p *Postgres) Name() string { return constants.PlatformPostgres }

func (p *Postgres) CreateTask(ctx context.Context, task events.TaskExtracted) (Result, error) {
	id := NewTaskID(p.Name())
	err := p.store.CreatePlatformTask(ctx, store.PlatformTask{
		ID:          id,
		TaskID:      task.TaskID,
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		DueDate:     task.DueDate,
		AssignedTo:  task.AssignedTo,
		Labels:      task.Labels,
		CreatedAt:   events.Now(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		PlatformTaskID: id,
		URL:            events.String("postgres://platform_tasks/" + id),
	}, nil
}
