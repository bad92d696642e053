package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	TaskIDKey      = "task_id"
	EventTypeKey   = "event_type"
	RoutingKeyKey  = "routing_key"
	ServiceNameKey = "service_name"
)

// fieldOrder fixes the order context fields appear in log lines.
var fieldOrder = []string{TraceIDKey, ServiceNameKey, EventTypeKey, RoutingKeyKey, MessageIDKey, TaskIDKey}

func with(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey(key), value)
}

func get(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(contextKey(key)).(string); ok {
		return value
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return with(ctx, TaskIDKey, taskID)
}

func WithEventType(ctx context.Context, eventType string) context.Context {
	return with(ctx, EventTypeKey, eventType)
}

func WithRoutingKey(ctx context.Context, routingKey string) context.Context {
	return with(ctx, RoutingKeyKey, routingKey)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	return get(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return get(ctx, MessageIDKey)
}

func GetTaskID(ctx context.Context) string {
	return get(ctx, TaskIDKey)
}

func GetEventType(ctx context.Context) string {
	return get(ctx, EventTypeKey)
}

func GetRoutingKey(ctx context.Context) string {
	return get(ctx, RoutingKeyKey)
}

func GetServiceName(ctx context.Context) string {
	return get(ctx, ServiceNameKey)
}

// GetLogFields returns the correlation fields stored in ctx as alternating
// key/value pairs ready for a sugared logger.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, len(fieldOrder)*2)
	for _, key := range fieldOrder {
		if value := get(ctx, key); value != "" {
			fields = append(fields, key, value)
		}
	}
	return fields
}
