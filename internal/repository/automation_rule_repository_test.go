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

var ruleRowColumns = []string{"id", "name", "description", "trigger_type", "trigger_data", "action_type", "action_data",
	"is_active", "send_time", "time_zone", "last_sent", "next_send", "created_at", "updated_at"}

func TestAutomationRuleRepositoryListActiveByType(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationRuleRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(ruleRowColumns).
		AddRow("rule-1", "Reminder", nil, "session-before", "3600", "send-message", "tpl-1", true, nil, nil, nil, nil, now, now)
	mock.ExpectQuery("SELECT id, name, description, trigger_type").
		WithArgs(models.TriggerSessionBefore).
		WillReturnRows(rows)

	rules, err := repo.ListActive(context.Background(), models.TriggerSessionBefore)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "3600", rules[0].TriggerData)
	assert.Equal(t, models.ActionSendMessage, rules[0].ActionType)
}

func TestAutomationRuleRepositoryListActiveAll(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationRuleRepository(db)

	mock.ExpectQuery("FROM automation_rules WHERE is_active = TRUE ORDER BY").
		WillReturnRows(sqlmock.NewRows(ruleRowColumns))

	rules, err := repo.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestAutomationRuleRepositoryUpdateSchedule(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAutomationRuleRepository(db)

	next := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE automation_rules").
		WithArgs("rule-1", nil, next, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSchedule(context.Background(), "rule-1", models.RuleScheduleUpdate{NextSend: &next})
	require.NoError(t, err)
}
