package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
	"github.com/noah-isme/course-automation/pkg/jobs"
)

type engineFixture struct {
	engine   *AutomationEngine
	rules    *ruleStoreStub
	digest   *digestStub
	watcher  *watcherStub
	executor *executorStub
	logs     *logRepoStub
	metrics  *metricsStub
}

var engineNow = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func newEngineFixture(t *testing.T, importer scheduleImporter, rules ...models.AutomationRule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		rules:    &ruleStoreStub{rules: rules},
		digest:   &digestStub{},
		watcher:  &watcherStub{},
		executor: &executorStub{},
		logs:     &logRepoStub{},
		metrics:  &metricsStub{},
	}
	sessions := &sessionStoreStub{sessions: []models.Session{
		sessionAt("s-past", "c1", "2024-03-04", "05:00"),
		sessionAt("s-next", "c1", "2024-03-04", "09:00"),
		sessionAt("s-later", "c1", "2024-03-04", "18:00"),
	}}
	f.engine = NewAutomationEngine(f.rules, sessions, f.digest, f.watcher, importer, f.executor, f.logs, f.metrics, nil, AutomationEngineConfig{
		Location:   time.UTC,
		DigestCron: "0 8 * * *",
		Now:        fixedClock(engineNow),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	return f
}

func cronRule(id, expression string) models.AutomationRule {
	return models.AutomationRule{ID: id, Name: "rule " + id, TriggerType: models.TriggerCronSchedule, TriggerData: expression, ActionType: models.ActionSendMessage, IsActive: true}
}

func dailyRule(id, sendTime, tz string) models.AutomationRule {
	return models.AutomationRule{ID: id, Name: "digest " + id, TriggerType: models.TriggerDailyCoursesMessage, ActionType: models.ActionSendMessage, IsActive: true, SendTime: &sendTime, TimeZone: &tz}
}

func TestEngineInitializeRegistersRules(t *testing.T) {
	f := newEngineFixture(t, nil,
		cronRule("weekly", "0 9 * * 1"),
		cronRule("broken", "99 99 * * *"),
		dailyRule("morning", "07:30", "Europe/Paris"),
		reminderRule("reminder", models.TriggerSessionBefore, "3600"),
	)

	result, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"weekly", "morning"}, result.Registered)
	assert.Equal(t, []string{"broken"}, result.Invalid)
	assert.Equal(t, []string{JobDailyDigest, JobWatcher}, result.System)
	assert.Equal(t, 2, f.metrics.rules)

	errorsLogged := f.logs.byType(models.LogTypeScheduler)
	require.Len(t, errorsLogged, 1)
	assert.Equal(t, models.AutomationStatusError, errorsLogged[0].Status)
	assert.Contains(t, errorsLogged[0].Message, `"rule broken"`)

	updates := f.rules.updates["morning"]
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].NextSend)
	assert.Equal(t, time.Date(2024, 3, 4, 6, 30, 0, 0, time.UTC), *updates[0].NextSend)
	assert.Len(t, f.engine.cron.Entries(), 4)
}

func TestEngineInitializeIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil, cronRule("weekly", "0 9 * * 1"), cronRule("broken", "99 99 * * *"))

	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)
	_, err = f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.engine.cron.Entries(), 3)
	assert.Len(t, f.engine.ruleEntries, 1)
	assert.Len(t, f.logs.byType(models.LogTypeScheduler), 1)
}

func TestEngineInitializeStorageFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.rules.listErr = errors.New("connection refused")

	_, err := f.engine.Initialize(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestEngineCronRuleJob(t *testing.T) {
	f := newEngineFixture(t, nil, cronRule("weekly", "0 9 * * 1"))

	err := f.engine.handleJob(context.Background(), jobs.Job{Type: JobCronRule, Payload: "weekly"})
	require.NoError(t, err)
	require.Len(t, f.executor.calls, 1)
	assert.Nil(t, f.executor.calls[0].actx.Session)

	entries := f.logs.byType(models.LogTypeRule)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusSuccess, entries[0].Status)

	updates := f.rules.updates["weekly"]
	require.Len(t, updates, 1)
	assert.NotNil(t, updates[0].LastSent)
	require.NotNil(t, updates[0].NextSend)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC), *updates[0].NextSend)
	assert.Equal(t, []string{JobCronRule}, f.metrics.jobs)
}

func TestEngineCronRuleJobSkipsInactive(t *testing.T) {
	rule := cronRule("weekly", "0 9 * * 1")
	rule.IsActive = false
	f := newEngineFixture(t, nil, rule)

	require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobCronRule, Payload: "weekly"}))
	assert.Empty(t, f.executor.calls)
}

func TestEngineCronRuleJobFailure(t *testing.T) {
	f := newEngineFixture(t, nil, cronRule("weekly", "0 9 * * 1"))
	f.executor.err = errors.New("dispatch failed")

	err := f.engine.handleJob(context.Background(), jobs.Job{Type: JobCronRule, Payload: "weekly"})
	require.Error(t, err)
	entries := f.logs.byType(models.LogTypeRule)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusError, entries[0].Status)
	assert.Empty(t, f.rules.updates["weekly"])
}

func TestEngineSystemJobs(t *testing.T) {
	f := newEngineFixture(t, nil, dailyRule("morning", "07:30", "UTC"))

	require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobDailyDigest}))
	require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobWatcher}))
	require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobDailyRule, Payload: "morning"}))
	assert.Error(t, f.engine.handleJob(context.Background(), jobs.Job{Type: "unknown"}))

	require.Len(t, f.digest.runs, 2)
	assert.Nil(t, f.digest.runs[0])
	assert.Equal(t, "morning", f.digest.runs[1].ID)
	assert.Equal(t, 1, f.watcher.ticks)
	require.Len(t, f.rules.updates["morning"], 1)
	assert.Equal(t, time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC), *f.rules.updates["morning"][0].NextSend)
}

func TestEngineTestAutomationUsesNextSession(t *testing.T) {
	f := newEngineFixture(t, nil, reminderRule("reminder", models.TriggerSessionBefore, "3600"))

	result, err := f.engine.TestAutomation(context.Background(), "reminder")
	require.NoError(t, err)
	assert.Equal(t, "reminder", result.RuleID)
	require.Len(t, f.executor.calls, 1)
	require.NotNil(t, f.executor.calls[0].actx.Session)
	assert.Equal(t, "s-next", f.executor.calls[0].actx.Session.ID)

	entries := f.logs.byType(models.LogTypeRule)
	require.Len(t, entries, 1)
	assert.Equal(t, "s-next", *entries[0].RelatedScheduleID)
}

func TestEngineTestAutomationDailyRunsDigest(t *testing.T) {
	f := newEngineFixture(t, nil, dailyRule("morning", "07:30", "UTC"))

	result, err := f.engine.TestAutomation(context.Background(), "morning")
	require.NoError(t, err)
	assert.Contains(t, result.Message, "2 sent")
	require.Len(t, f.digest.runs, 1)
	assert.Empty(t, f.executor.calls)
}

func TestEngineTestAutomationUnknownRule(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.TestAutomation(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEngineSendDailyMessagesNow(t *testing.T) {
	inactive := dailyRule("paused", "07:30", "UTC")
	inactive.IsActive = false
	f := newEngineFixture(t, nil, dailyRule("morning", "07:30", "UTC"), inactive)

	result, err := f.engine.SendDailyMessagesNow(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)

	_, err = f.engine.SendDailyMessagesNow(context.Background(), "morning")
	require.NoError(t, err)

	_, err = f.engine.SendDailyMessagesNow(context.Background(), "paused")
	assert.True(t, errors.Is(err, appErrors.ErrRuleInactive))
	assert.Len(t, f.digest.runs, 2)
}

func TestEngineHandleEvent(t *testing.T) {
	specific := models.AutomationRule{ID: "start-c1", Name: "c1 start", TriggerType: models.TriggerCourseStart, TriggerData: "c1", ActionType: models.ActionSendMessage, IsActive: true}
	wildcard := models.AutomationRule{ID: "start-any", Name: "any start", TriggerType: models.TriggerCourseStart, ActionType: models.ActionSendMessage, IsActive: true}
	other := models.AutomationRule{ID: "start-c2", Name: "c2 start", TriggerType: models.TriggerCourseStart, TriggerData: "c2", ActionType: models.ActionSendMessage, IsActive: true}
	f := newEngineFixture(t, nil, specific, wildcard, other)

	result, err := f.engine.HandleEvent(context.Background(), models.TriggerCourseStart, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, f.executor.calls, 2)
	assert.Equal(t, "c1", f.executor.calls[0].actx.EntityID)
	assert.Len(t, f.logs.byType(models.LogTypeEvent), 2)

	_, err = f.engine.HandleEvent(context.Background(), models.TriggerCronSchedule, "c1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestEngineRunImportManually(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.RunImportManually(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	importer := &importerStub{result: &ImportResult{Rows: 3, Created: 2, Skipped: 1}}
	f = newEngineFixture(t, importer)
	result, err := f.engine.RunImportManually(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	entries := f.logs.byType(models.LogTypeImport)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusSuccess, entries[0].Status)
	assert.Contains(t, entries[0].Message, "2 created")

	importer.result, importer.err = nil, errors.New("file missing")
	_, err = f.engine.RunImportManually(context.Background())
	require.Error(t, err)
	assert.Len(t, f.logs.byType(models.LogTypeImport), 2)
}

func TestEngineRunRemindersManually(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.RunRemindersManually(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.watcher.ticks)
}

func TestEngineRunRemindersManuallyLogsFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.watcher.err = errors.New("sessions unavailable")

	_, err := f.engine.RunRemindersManually(context.Background())
	require.Error(t, err)
	entries := f.logs.byType(models.LogTypeReminder)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AutomationStatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "sessions unavailable")
}

func TestEngineSkipsTimerOfRetypedRule(t *testing.T) {
	rule := cronRule("weekly", "0 9 * * 1")
	rule.TriggerType = models.TriggerSessionBefore
	rule.TriggerData = "3600"
	// registered as a daily rule, since changed to a cron schedule
	formerDaily := cronRule("morning", "0 7 * * *")
	f := newEngineFixture(t, nil, rule, formerDaily)

	require.NotPanics(t, func() {
		require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobCronRule, Payload: "weekly"}))
		require.NoError(t, f.engine.handleJob(context.Background(), jobs.Job{Type: JobDailyRule, Payload: "morning"}))
	})
	assert.Empty(t, f.executor.calls)
	assert.Empty(t, f.digest.runs)
	assert.Empty(t, f.rules.updates)

	entries := f.logs.byType(models.LogTypeScheduler)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, models.AutomationStatusError, entry.Status)
		assert.Contains(t, entry.Message, "re-initialize")
	}
}

func TestEngineShutdownBeforeInitialize(t *testing.T) {
	f := newEngineFixture(t, nil)
	assert.NoError(t, f.engine.Shutdown(context.Background()))
}

func TestWithTimeZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Europe/Paris 0 8 * * *", withTimeZone("0 8 * * *", paris))
	assert.Equal(t, "@every 5m", withTimeZone("@every 5m", paris))
	assert.Equal(t, "CRON_TZ=UTC 0 8 * * *", withTimeZone("CRON_TZ=UTC 0 8 * * *", paris))
}
