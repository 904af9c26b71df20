package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

const defaultLogLimit = 500

// AutomationLogRepository is an append-only store of automation attempts.
type AutomationLogRepository struct {
	db *sqlx.DB
}

// NewAutomationLogRepository constructs the repository.
func NewAutomationLogRepository(db *sqlx.DB) *AutomationLogRepository {
	return &AutomationLogRepository{db: db}
}

// Append inserts a new entry, assigning id and timestamp when absent.
func (r *AutomationLogRepository) Append(ctx context.Context, entry *models.AutomationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Details) == 0 {
		entry.Details = []byte("{}")
	}
	const query = `INSERT INTO automation_logs (id, type, status, message, details, related_schedule_id, created_at)
VALUES (:id, :type, :status, :message, :details, :related_schedule_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append automation log: %w", err)
	}
	return nil
}

// List returns entries newest first, optionally filtered by type or related schedule.
func (r *AutomationLogRepository) List(ctx context.Context, filter models.AutomationLogFilter) ([]models.AutomationLogEntry, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.RelatedID != "" {
		args = append(args, filter.RelatedID)
		conditions = append(conditions, fmt.Sprintf("related_schedule_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	args = append(args, limit)

	query := `SELECT id, type, status, message, details, related_schedule_id, created_at FROM automation_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	var entries []models.AutomationLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list automation logs: %w", err)
	}
	return entries, nil
}
