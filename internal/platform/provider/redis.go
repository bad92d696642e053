package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskflow/internal/constants"
	"taskflow/pkg/events"
)

// Redis stores each task as a hash under taskflow:task:<id> and appends the
// id to the taskflow:tasks list.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Name() string { return constants.PlatformRedis }

func taskKey(platformTaskID string) string {
	return constants.RedisTaskKeyPrefix + platformTaskID
}

func (r *Redis) CreateTask(ctx context.Context, task events.TaskExtracted) (Result, error) {
	id := NewTaskID(r.Name())

	labels, err := json.Marshal(task.Labels)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode labels: %w", err)
	}

	fields := map[string]interface{}{
		"platform_task_id":  id,
		"task_id":           task.TaskID,
		"source_message_id": task.SourceMessageID,
		"title":             task.Title,
		"description":       task.Description,
		"labels":            string(labels),
		"status":            constants.TaskStatusCreated,
		"created_at":        events.Now().Format(time.RFC3339),
	}
	if task.Priority != nil {
		fields["priority"] = string(*task.Priority)
	}
	if task.DueDate != nil {
		fields["due_date"] = task.DueDate.Format(time.RFC3339)
	}
	if task.AssignedTo != nil {
		fields["assigned_to"] = *task.AssignedTo
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(id), fields)
		pipe.RPush(ctx, constants.RedisTaskIndexKey, id)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to store task in redis: %w", err)
	}

	return Result{
		PlatformTaskID: id,
		URL:            events.String("redis://" + taskKey(id)),
	}, nil
}

// Get returns the stored fields of a task, or nil when it does not exist.
func (r *Redis) Get(ctx context.Context, platformTaskID string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, taskKey(platformTaskID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// List returns task ids in creation order.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	return r.client.LRange(ctx, constants.RedisTaskIndexKey, 0, -1).Result()
}
