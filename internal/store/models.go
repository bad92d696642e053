package store

import (
	"time"

	"taskflow/pkg/events"
)

type Message struct {
	ID        string
	Source    string
	Content   string
	Author    string
	Channel   *string
	Metadata  events.Metadata
	Timestamp time.Time
}

// MessageFromEvent maps an ingested event onto its stored row.
func MessageFromEvent(e events.MessageReceived) Message {
	m := Message{
		ID:       e.MessageID,
		Source:   e.Source,
		Content:  e.Content,
		Author:   e.Author,
		Channel:  e.Channel,
		Metadata: e.Metadata,
	}
	if e.Timestamp != nil {
		m.Timestamp = *e.Timestamp
	} else {
		m.Timestamp = events.Now()
	}
	return m
}

// TaskRecord is the last known outcome of a task. A later result for the
// same task replaces the earlier one.
type TaskRecord struct {
	TaskID          string
	SourceMessageID string
	Title           string
	Platform        string
	PlatformTaskID  string
	PlatformURL     *string
	Status          string
	ErrorMessage    string
	ErrorCode       *string
	UpdatedAt       time.Time
}

// PlatformTask is a row on the postgres platform's task board.
type PlatformTask struct {
	ID          string
	TaskID      string
	Title       string
	Description string
	Priority    *events.Priority
	DueDate     *time.Time
	AssignedTo  *string
	Labels      []string
	CreatedAt   time.Time
}
