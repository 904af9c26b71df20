package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

// ActivityLogRepository stores dispatcher attempts.
type ActivityLogRepository struct {
	db *sqlx.DB
}

// NewActivityLogRepository constructs the repository.
func NewActivityLogRepository(db *sqlx.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Append inserts an activity row.
func (r *ActivityLogRepository) Append(ctx context.Context, entry *models.ActivityLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activity_logs (id, action, destination, description, success, error, created_at)
VALUES (:id, :action, :destination, :description, :success, :error, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append activity log: %w", err)
	}
	return nil
}

// ListRecent returns the latest activity rows, newest first.
func (r *ActivityLogRepository) ListRecent(ctx context.Context, limit int) ([]models.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	const query = `SELECT id, action, destination, description, success, error, created_at
FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT $1`
	var entries []models.ActivityLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	return entries, nil
}
