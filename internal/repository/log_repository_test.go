package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-automation/internal/models"
)

func TestAutomationLogRepositoryAppendDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationLogRepository(db)

	mock.ExpectExec("INSERT INTO automation_logs").
		WithArgs(sqlmock.AnyArg(), models.LogTypeScheduler, models.AutomationStatusError, "invalid cron", []byte("{}"), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AutomationLogEntry{Type: models.LogTypeScheduler, Status: models.AutomationStatusError, Message: "invalid cron"}
	require.NoError(t, repo.Append(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestAutomationLogRepositoryListFiltersNewestFirst(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationLogRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "type", "status", "message", "details", "related_schedule_id", "created_at"}).
		AddRow("l-2", "zoom-meeting", "success", "created", []byte(`{"id":"1"}`), "s-1", now).
		AddRow("l-1", "zoom-meeting", "error", "failed", []byte(`{}`), "s-1", now.Add(-time.Minute))
	mock.ExpectQuery("WHERE type = \\$1 AND related_schedule_id = \\$2 ORDER BY created_at DESC, id DESC LIMIT \\$3").
		WithArgs(models.LogTypeMeeting, "s-1", 20).
		WillReturnRows(rows)

	entries, err := repo.List(context.Background(), models.AutomationLogFilter{Type: models.LogTypeMeeting, RelatedID: "s-1", Limit: 20})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "l-2", entries[0].ID)
	assert.JSONEq(t, `{"id":"1"}`, entries[0].Details.String())
}

func TestAutomationLogRepositoryListDefaultLimit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationLogRepository(db)

	mock.ExpectQuery("FROM automation_logs ORDER BY created_at DESC").
		WithArgs(defaultLogLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status", "message", "details", "related_schedule_id", "created_at"}))

	entries, err := repo.List(context.Background(), models.AutomationLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestActivityLogRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityLogRepository(db)

	mock.ExpectExec("INSERT INTO activity_logs").
		WithArgs(sqlmock.AnyArg(), "telegram-message", "@english_b2", "hello", false, "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), &models.ActivityLogEntry{
		Action:      "telegram-message",
		Destination: "@english_b2",
		Description: "hello",
		Error:       strPtr("boom"),
	}))
}

func TestMessageLogRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageLogRepository(db)

	mock.ExpectExec("INSERT INTO message_logs").
		WithArgs(sqlmock.AnyArg(), "s-1", "c-1", nil, "@english_b2", "text", models.MessageStatusSent, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), &models.MessageLogEntry{
		SessionID:   "s-1",
		CourseID:    "c-1",
		Destination: "@english_b2",
		Content:     "text",
		Status:      models.MessageStatusSent,
	}))
}
