package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

// MeetingRepository stores provisioned meetings, one per session.
type MeetingRepository struct {
	db *sqlx.DB
}

// NewMeetingRepository constructs the repository.
func NewMeetingRepository(db *sqlx.DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

// GetByScheduleID returns the meeting for a session or sql.ErrNoRows.
func (r *MeetingRepository) GetByScheduleID(ctx context.Context, scheduleID string) (*models.MeetingRecord, error) {
	const query = `SELECT id, related_schedule_id, external_meeting_id, join_url, start_time, status, created_at
FROM meetings WHERE related_schedule_id = $1 LIMIT 1`
	var record models.MeetingRecord
	if err := r.db.GetContext(ctx, &record, query, scheduleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get meeting by schedule: %w", err)
	}
	return &record, nil
}

// Create inserts a meeting. When another meeting already exists for the session
// nothing is written and false is returned.
func (r *MeetingRepository) Create(ctx context.Context, record *models.MeetingRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO meetings (id, related_schedule_id, external_meeting_id, join_url, start_time, status, created_at)
VALUES (:id, :related_schedule_id, :external_meeting_id, :join_url, :start_time, :status, :created_at)
ON CONFLICT (related_schedule_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return false, fmt.Errorf("create meeting: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create meeting rows affected: %w", err)
	}
	return affected > 0, nil
}
