package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-automation/internal/models"
)

func TestMeetingRepositoryGetByScheduleIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMeetingRepository(db)

	mock.ExpectQuery("FROM meetings WHERE related_schedule_id").WithArgs("s-1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByScheduleID(context.Background(), "s-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMeetingRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMeetingRepository(db)

	start := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO meetings").
		WithArgs(sqlmock.AnyArg(), "s-1", "987", "https://zoom.us/j/987", start, models.MeetingStatusScheduled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO meetings").WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(context.Background(), &models.MeetingRecord{
		RelatedScheduleID: "s-1",
		ExternalMeetingID: "987",
		JoinURL:           "https://zoom.us/j/987",
		StartTime:         start,
		Status:            models.MeetingStatusScheduled,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(context.Background(), &models.MeetingRecord{RelatedScheduleID: "s-1", StartTime: start})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestFiringRepositoryClaim(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewFiringRepository(db)

	at := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO automation_firings").
		WithArgs("rule-1", "s-1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO automation_firings").
		WithArgs("rule-1", "s-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.Claim(context.Background(), "rule-1", "s-1", at)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.Claim(context.Background(), "rule-1", "s-1", at)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestRedisFiringRepositoryUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	repo := NewRedisFiringRepository(client, time.Hour)
	defer repo.Close()

	ok, err := repo.Claim(context.Background(), "rule-1", "s-1", time.Now())
	assert.Error(t, err)
	assert.False(t, ok)
}
