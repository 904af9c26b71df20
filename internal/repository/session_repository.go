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

const sessionColumns = `id, course_id, professor_id, scheduled_date, scheduled_time, time_zone, duration_minutes,
meeting_id, meeting_url, status, created_at, updated_at`

// SessionRepository manages scheduled course sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// ListInRange returns scheduled sessions whose date falls between the dates of start and end,
// ordered by date then time.
func (r *SessionRepository) ListInRange(ctx context.Context, start, end time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
WHERE scheduled_date BETWEEN $1 AND $2 AND status = $3
ORDER BY scheduled_date ASC, scheduled_time ASC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query,
		start.Format("2006-01-02"), end.Format("2006-01-02"), models.SessionStatusScheduled); err != nil {
		return nil, fmt.Errorf("list sessions in range: %w", err)
	}
	return sessions, nil
}

// GetByID fetches a session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// UpdateMeeting stores the provisioned meeting on a session.
func (r *SessionRepository) UpdateMeeting(ctx context.Context, id string, update models.SessionMeetingUpdate) error {
	const query = `UPDATE sessions SET meeting_id = $2, meeting_url = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, update.MeetingID, update.MeetingURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("update session meeting: %w", err)
	}
	return nil
}

// Create inserts an imported session, skipping rows that already exist for the
// same course, date and time. It reports whether a row was written.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (bool, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	const query = `INSERT INTO sessions (id, course_id, professor_id, scheduled_date, scheduled_time, time_zone,
duration_minutes, meeting_id, meeting_url, status, created_at, updated_at)
VALUES (:id, :course_id, :professor_id, :scheduled_date, :scheduled_time, :time_zone,
:duration_minutes, :meeting_id, :meeting_url, :status, :created_at, :updated_at)
ON CONFLICT (course_id, scheduled_date, scheduled_time) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create session rows affected: %w", err)
	}
	return affected > 0, nil
}
