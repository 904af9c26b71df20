package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-automation/internal/models"
)

type watcherFixture struct {
	watcher  *SessionWatcher
	rules    *ruleStoreStub
	firings  *firingStub
	executor *executorStub
	logs     *logRepoStub
	now      time.Time
}

func newWatcherFixture(rules ...models.AutomationRule) *watcherFixture {
	f := &watcherFixture{
		rules:    &ruleStoreStub{rules: rules},
		firings:  &firingStub{},
		executor: &executorStub{},
		logs:     &logRepoStub{},
	}
	sessions := &sessionStoreStub{sessions: []models.Session{sessionAt("s1", "c1", "2024-03-04", "14:00")}}
	f.watcher = NewSessionWatcher(f.rules, sessions, f.firings, f.executor, f.rules, f.logs, nil, SessionWatcherConfig{
		Interval: 5 * time.Minute,
		Location: time.UTC,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *watcherFixture) tickAt(t *testing.T, hour, minute int) *WatchResult {
	t.Helper()
	f.now = time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
	result, err := f.watcher.Tick(context.Background())
	require.NoError(t, err)
	return result
}

func reminderRule(id string, trigger models.TriggerType, offset string) models.AutomationRule {
	return models.AutomationRule{ID: id, Name: "rule " + id, TriggerType: trigger, TriggerData: offset, ActionType: models.ActionSendMessage, IsActive: true}
}

func TestSessionWatcherFiresExactlyOnce(t *testing.T) {
	f := newWatcherFixture(reminderRule("r1", models.TriggerSessionBefore, "3600"))

	assert.Equal(t, 0, f.tickAt(t, 12, 58).Fired)
	assert.Equal(t, 1, f.tickAt(t, 13, 0).Fired)
	assert.Equal(t, 0, f.tickAt(t, 13, 5).Fired)
	assert.Equal(t, 0, f.tickAt(t, 13, 6).Fired)

	require.Len(t, f.executor.calls, 1)
	call := f.executor.calls[0]
	assert.Equal(t, "r1", call.rule.ID)
	require.NotNil(t, call.actx.Session)
	assert.Equal(t, "s1", call.actx.Session.ID)

	entries := f.logs.byType(models.LogTypeReminder)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusSuccess, entries[0].Status)
	assert.Equal(t, "s1", *entries[0].RelatedScheduleID)
	require.Len(t, f.rules.updates["r1"], 1)
}

func TestSessionWatcherAfterOffset(t *testing.T) {
	f := newWatcherFixture(reminderRule("r2", models.TriggerSessionAfter, "1800"))

	assert.Equal(t, 0, f.tickAt(t, 14, 25).Fired)
	assert.Equal(t, 1, f.tickAt(t, 14, 32).Fired)
}

func TestSessionWatcherZeroOffsetFiresAtStart(t *testing.T) {
	f := newWatcherFixture(reminderRule("r3", models.TriggerSessionBefore, "0"))

	assert.Equal(t, 1, f.tickAt(t, 14, 2).Fired)
}

func TestSessionWatcherFailureIsNotRetried(t *testing.T) {
	f := newWatcherFixture(reminderRule("r1", models.TriggerSessionBefore, "3600"))
	f.executor.err = errors.New("no destination")

	result := f.tickAt(t, 13, 0)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Fired)
	f.tickAt(t, 13, 3)
	assert.Len(t, f.executor.calls, 1)

	entries := f.logs.byType(models.LogTypeReminder)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusError, entries[0].Status)
	assert.Empty(t, f.rules.updates["r1"])
}

func TestSessionWatcherReportsInvalidRuleOnce(t *testing.T) {
	f := newWatcherFixture(
		reminderRule("bad", models.TriggerSessionBefore, "soon"),
		reminderRule("r1", models.TriggerSessionBefore, "3600"),
	)

	f.tickAt(t, 13, 0)
	f.tickAt(t, 13, 5)

	var errorsLogged int
	for _, entry := range f.logs.byType(models.LogTypeReminder) {
		if entry.Status == models.AutomationStatusError {
			errorsLogged++
			assert.Contains(t, entry.Message, `"rule bad"`)
		}
	}
	assert.Equal(t, 1, errorsLogged)
	assert.Len(t, f.executor.calls, 1)
}

func TestSessionWatcherIgnoresInactiveRules(t *testing.T) {
	rule := reminderRule("r1", models.TriggerSessionBefore, "3600")
	rule.IsActive = false
	f := newWatcherFixture(rule)

	result := f.tickAt(t, 13, 0)
	assert.Equal(t, 0, result.Rules)
	assert.Empty(t, f.executor.calls)
}
