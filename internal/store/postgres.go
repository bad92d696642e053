// Package store persists ingested messages, task outcomes and the postgres
// platform's task board.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/metrics"
)

const uniqueViolation = "23505"

type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
}

type ResultStore interface {
	RecordTaskResult(ctx context.Context, rec TaskRecord) error
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	ListTasksByMessage(ctx context.Context, messageID string) ([]TaskRecord, error)
}

type PlatformTaskStore interface {
	CreatePlatformTask(ctx context.Context, task PlatformTask) error
	GetPlatformTask(ctx context.Context, id string) (*PlatformTask, error)
}

type PostgresStore struct {
	db      *sql.DB
	service string
}

var (
	_ MessageStore      = (*PostgresStore)(nil)
	_ ResultStore       = (*PostgresStore)(nil)
	_ PlatformTaskStore = (*PostgresStore)(nil)
)

func NewPostgresStore(db *sql.DB, serviceName string) *PostgresStore {
	return &PostgresStore{db: db, service: serviceName}
}

func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(s.service, "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration(s.service, "postgres", operation, time.Since(start))
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg Message) (err error) {
	defer func(start time.Time) { s.observe("create_message", start, err) }(time.Now())

	metadata, err := json.Marshal(nonNilMetadata(msg.Metadata))
	if err != nil {
		return apperrors.ErrSerialization.WithCause(err)
	}

	query := `
		INSERT INTO messages (id, source, content, author, channel, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.Source, msg.Content, msg.Author,
		nullString(msg.Channel), metadata, msg.Timestamp.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.ErrConflict.WithCause(err).WithMessage(fmt.Sprintf("message '%s' already exists", msg.ID))
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (_ *Message, err error) {
	defer func(start time.Time) { s.observe("get_message", start, err) }(time.Now())

	query := `
		SELECT id, source, content, author, channel, metadata, timestamp
		FROM messages
		WHERE id = $1
	`

	var (
		msg      Message
		channel  sql.NullString
		metadata []byte
	)
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.Source, &msg.Content, &msg.Author, &channel, &metadata, &msg.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("message '%s' not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, apperrors.ErrDeserialization.WithCause(err)
	}
	msg.Metadata = nonNilMetadata(msg.Metadata)
	msg.Channel = stringPtr(channel)
	msg.Timestamp = msg.Timestamp.UTC()
	return &msg, nil
}

func (s *PostgresStore) RecordTaskResult(ctx context.Context, rec TaskRecord) (err error) {
	defer func(start time.Time) { s.observe("record_task_result", start, err) }(time.Now())

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = events.Now()
	}

	query := `
		INSERT INTO tasks (id, source_message_id, title, platform, platform_task_id, platform_url,
			status, error_message, error_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source_message_id = COALESCE(EXCLUDED.source_message_id, tasks.source_message_id),
			title = EXCLUDED.title,
			platform = EXCLUDED.platform,
			platform_task_id = EXCLUDED.platform_task_id,
			platform_url = EXCLUDED.platform_url,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			error_code = EXCLUDED.error_code,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.TaskID, nullIfEmpty(rec.SourceMessageID), rec.Title, rec.Platform,
		nullIfEmpty(rec.PlatformTaskID), nullString(rec.PlatformURL),
		rec.Status, nullIfEmpty(rec.ErrorMessage), nullString(rec.ErrorCode), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record task result: %w", err)
	}
	return nil
}

const taskColumns = `id, source_message_id, title, platform, platform_task_id, platform_url,
	status, error_message, error_code, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var (
		rec                                           TaskRecord
		sourceMessageID, platformTaskID, errorMessage sql.NullString
		platformURL, errorCode                        sql.NullString
	)
	if err := row.Scan(
		&rec.TaskID, &sourceMessageID, &rec.Title, &rec.Platform, &platformTaskID, &platformURL,
		&rec.Status, &errorMessage, &errorCode, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.SourceMessageID = sourceMessageID.String
	rec.PlatformTaskID = platformTaskID.String
	rec.ErrorMessage = errorMessage.String
	rec.PlatformURL = stringPtr(platformURL)
	rec.ErrorCode = stringPtr(errorCode)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (_ *TaskRecord, err error) {
	defer func(start time.Time) { s.observe("get_task", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("task '%s' not found", taskID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListTasksByMessage(ctx context.Context, messageID string) (_ []TaskRecord, err error) {
	defer func(start time.Time) { s.observe("list_tasks_by_message", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source_message_id = $1 ORDER BY updated_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePlatformTask(ctx context.Context, task PlatformTask) (err error) {
	defer func(start time.Time) { s.observe("create_platform_task", start, err) }(time.Now())

	if task.CreatedAt.IsZero() {
		task.CreatedAt = events.Now()
	}
	var priority interface{}
	if task.Priority != nil {
		priority = string(*task.Priority)
	}
	var dueDate interface{}
	if task.DueDate != nil {
		dueDate = task.DueDate.UTC()
	}
	labels := task.Labels
	if labels == nil {
		labels = []string{}
	}

	query := `
		INSERT INTO platform_tasks (id, task_id, title, description, priority, due_date, assigned_to, labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.TaskID, task.Title, task.Description,
		priority, dueDate, nullString(task.AssignedTo), pq.Array(labels), task.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.ErrConflict.WithCause(err).WithMessage(fmt.Sprintf("task '%s' already on the board", task.TaskID))
		}
		return fmt.Errorf("failed to create platform task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlatformTask(ctx context.Context, id string) (_ *PlatformTask, err error) {
	defer func(start time.Time) { s.observe("get_platform_task", start, err) }(time.Now())

	query := `
		SELECT id, task_id, title, description, priority, due_date, assigned_to, labels, created_at
		FROM platform_tasks
		WHERE id = $1
	`

	var (
		task       PlatformTask
		priority   sql.NullString
		dueDate    sql.NullTime
		assignedTo sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.TaskID, &task.Title, &task.Description,
		&priority, &dueDate, &assignedTo, pq.Array(&task.Labels), &task.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("platform task '%s' not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform task: %w", err)
	}

	if priority.Valid {
		task.Priority = events.PriorityOf(events.Priority(priority.String))
	}
	if dueDate.Valid {
		task.DueDate = events.Time(dueDate.Time)
	}
	task.AssignedTo = stringPtr(assignedTo)
	if task.Labels == nil {
		task.Labels = []string{}
	}
	task.CreatedAt = task.CreatedAt.UTC()
	return &task, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return events.String(ns.String)
}

func nonNilMetadata(m events.Metadata) events.Metadata {
	if m == nil {
		return events.Metadata{}
	}
	return m
}
