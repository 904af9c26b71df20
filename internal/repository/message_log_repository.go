package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

// MessageLogRepository stores one row per digest reminder attempt.
type MessageLogRepository struct {
	db *sqlx.DB
}

// NewMessageLogRepository constructs the repository.
func NewMessageLogRepository(db *sqlx.DB) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Append inserts a message log row.
func (r *MessageLogRepository) Append(ctx context.Context, entry *models.MessageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	const query = `INSERT INTO message_logs (id, session_id, course_id, rule_id, destination, content, status, error, sent_at)
VALUES (:id, :session_id, :course_id, :rule_id, :destination, :content, :status, :error, :sent_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}

// ListBySession returns reminder attempts for a session, newest first.
func (r *MessageLogRepository) ListBySession(ctx context.Context, sessionID string) ([]models.MessageLogEntry, error) {
	const query = `SELECT id, session_id, course_id, rule_id, destination, content, status, error, sent_at
FROM message_logs WHERE session_id = $1 ORDER BY sent_at DESC`
	var entries []models.MessageLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, sessionID); err != nil {
		return nil, fmt.Errorf("list message logs: %w", err)
	}
	return entries, nil
}
