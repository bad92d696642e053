// Package events defines the typed events exchanged between taskflow
// services and their JSON wire format.
//
// Every event is a flat JSON object carrying an event_type discriminator whose
// value doubles as the routing key the event is published under. Optional
// fields are always present on the wire and encoded as null when unset.
package events

import (
	"time"
)

// Type is the event discriminator and routing key family.
type Type string

const (
	TypeMessageReceived Type = "conversation.message_received"
	TypeTaskExtracted   Type = "task.extracted"
	TypeTaskCreated     Type = "task.created"
	TypeTaskFailed      Type = "task.failed"
)

// Types lists every known event type in pipeline order.
func Types() []Type {
	return []Type{TypeMessageReceived, TypeTaskExtracted, TypeTaskCreated, TypeTaskFailed}
}

func (t Type) String() string {
	return string(t)
}

// RoutingKey is the topic exchange routing key events of this type are
// published with.
func (t Type) RoutingKey() string {
	return string(t)
}

func (t Type) Valid() bool {
	switch t {
	case TypeMessageReceived, TypeTaskExtracted, TypeTaskCreated, TypeTaskFailed:
		return true
	}
	return false
}

// Priority of an extracted task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Metadata is the open, string-keyed map every event carries.
type Metadata map[string]interface{}

// Event is implemented by exactly the four event types in this package.
type Event interface {
	// EventType is the constant discriminator of the concrete event.
	EventType() Type
	// ID is the message or task id used to correlate the event across services.
	ID() string

	sealed()
}

type MessageReceived struct {
	MessageID string     `json:"message_id"`
	Source    string     `json:"source"`
	Content   string     `json:"content"`
	Author    string     `json:"author"`
	Timestamp *time.Time `json:"timestamp"`
	Channel   *string    `json:"channel"`
	Metadata  Metadata   `json:"metadata"`
}

type TaskExtracted struct {
	TaskID          string     `json:"task_id"`
	SourceMessageID string     `json:"source_message_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Priority        *Priority  `json:"priority"`
	DueDate         *time.Time `json:"due_date"`
	AssignedTo      *string    `json:"assigned_to"`
	Labels          []string   `json:"labels"`
	Metadata        Metadata   `json:"metadata"`
}

type TaskCreated struct {
	TaskID         string    `json:"task_id"`
	Platform       string    `json:"platform"`
	PlatformTaskID string    `json:"platform_task_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	PlatformURL    *string   `json:"platform_url"`
	Metadata       Metadata  `json:"metadata"`
}

type TaskFailed struct {
	TaskID       string    `json:"task_id"`
	Platform     string    `json:"platform"`
	Title        string    `json:"title"`
	ErrorMessage string    `json:"error_message"`
	ErrorCode    *string   `json:"error_code"`
	FailedAt     time.Time `json:"failed_at"`
	Metadata     Metadata  `json:"metadata"`
}

func (MessageReceived) EventType() Type { return TypeMessageReceived }
func (TaskExtracted) EventType() Type   { return TypeTaskExtracted }
func (TaskCreated) EventType() Type     { return TypeTaskCreated }
func (TaskFailed) EventType() Type      { return TypeTaskFailed }

func (e MessageReceived) ID() string { return e.MessageID }
func (e TaskExtracted) ID() string   { return e.TaskID }
func (e TaskCreated) ID() string     { return e.TaskID }
func (e TaskFailed) ID() string      { return e.TaskID }

func (MessageReceived) sealed() {}
func (TaskExtracted) sealed()   {}
func (TaskCreated) sealed()     {}
func (TaskFailed) sealed()      {}

// String returns a pointer to s, for optional event fields.
func String(s string) *string {
	return &s
}

// Time returns a pointer to t normalized to UTC, for optional event fields.
func Time(t time.Time) *time.Time {
	n := Timestamp(t)
	return &n
}

// PriorityOf returns a pointer to p, or nil when p is not a known priority.
func PriorityOf(p Priority) *Priority {
	if !p.Valid() {
		return nil
	}
	return &p
}

// Timestamp normalizes t to UTC without a monotonic clock reading, which is
// the form every time value takes after a trip over the wire.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// Now returns the current time in wire form.
func Now() time.Time {
	return Timestamp(time.Now())
}
