package ingestor

import "taskflow/pkg/events"

// Message is one conversation message to ingest. Source falls back to the
// service default when empty.
type Message struct {
	Content  string          `json:"content"`
	Author   string          `json:"author" binding:"required"`
	Source   string          `json:"source"`
	Channel  *string         `json:"channel"`
	Metadata events.Metadata `json:"metadata"`
}

type IngestResponse struct {
	MessageID string `json:"message_id"`
}

type BatchRequest struct {
	Messages []Message `json:"messages" binding:"required,dive"`
}

type BatchResponse struct {
	MessageIDs []string `json:"message_ids"`
	Submitted  int      `json:"submitted"`
	Accepted   int      `json:"accepted"`
}
