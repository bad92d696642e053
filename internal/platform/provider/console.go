package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskflow/internal/logger"
	"taskflow/pkg/events"
)

// ConsoleTask is a task held by a Console platform.
type ConsoleTask struct {
	PlatformTaskID string
	TaskID         string
	Title          string
	Description    string
	Priority       *events.Priority
	DueDate        *time.Time
	AssignedTo     *string
	Labels         []string
	CreatedAt      time.Time
}

// Console keeps tasks in memory and logs a card for each one. It stands in
// for a real tracker in development and demos.
type Console struct {
	name   string
	logger logger.Logger

	mu    sync.RWMutex
	tasks map[string]ConsoleTask
	order []string
}

func NewConsole(name string, log logger.Logger) *Console {
	return &Console{
		name:   name,
		logger: log,
		tasks:  make(map[string]ConsoleTask),
	}
}

func (c *Console) Name() string { return c.name }

func (c *Console) CreateTask(ctx context.Context, task events.TaskExtracted) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rec := ConsoleTask{
		PlatformTaskID: NewTaskID(c.name),
		TaskID:         task.TaskID,
		Title:          task.Title,
		Description:    task.Description,
		Priority:       task.Priority,
		DueDate:        task.DueDate,
		AssignedTo:     task.AssignedTo,
		Labels:         task.Labels,
		CreatedAt:      events.Now(),
	}

	c.mu.Lock()
	c.tasks[rec.PlatformTaskID] = rec
	c.order = append(c.order, rec.PlatformTaskID)
	c.mu.Unlock()

	c.logCard(ctx, rec)

	return Result{
		PlatformTaskID: rec.PlatformTaskID,
		URL:            events.String("mock://" + c.name + "/" + rec.PlatformTaskID),
	}, nil
}

func (c *Console) logCard(ctx context.Context, rec ConsoleTask) {
	priority, due, assignee, labels := "none", "Not specified", "Unassigned", "None"
	if rec.Priority != nil {
		priority = string(*rec.Priority)
	}
	if rec.DueDate != nil {
		due = rec.DueDate.Format("2006-01-02")
	}
	if rec.AssignedTo != nil {
		assignee = *rec.AssignedTo
	}
	if len(rec.Labels) > 0 {
		labels = strings.Join(rec.Labels, ", ")
	}

	c.logger.InfowCtx(ctx, "New task created",
		"platform", c.name,
		"platform_task_id", rec.PlatformTaskID,
		"title", rec.Title,
		"description", rec.Description,
		"priority", priority,
		"due_date", due,
		"assigned_to", assignee,
		"labels", labels,
	)
}

func (c *Console) Get(platformTaskID string) (ConsoleTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[platformTaskID]
	return t, ok
}

// Tasks returns every task in creation order.
func (c *Console) Tasks() []ConsoleTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConsoleTask, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tasks[id])
	}
	return out
}
