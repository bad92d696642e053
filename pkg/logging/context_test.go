package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTaskID(ctx, "t-1")
	ctx = WithServiceName(ctx, "extractor-service")
	ctx = WithEventType(ctx, "task.extracted")
	ctx = WithRoutingKey(ctx, "task.extracted")
	ctx = WithMessageID(ctx, "")

	assert.Equal(t, []interface{}{
		"service_name", "extractor-service",
		"event_type", "task.extracted",
		"routing_key", "task.extracted",
		"task_id", "t-1",
	}, GetLogFields(ctx))
	assert.Equal(t, "t-1", GetTaskID(ctx))
	assert.Empty(t, GetMessageID(ctx))
}
