package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
	"github.com/noah-isme/course-automation/pkg/jobs"
)

// Job types carried on the engine queue.
const (
	JobDailyDigest = "daily-digest"
	JobWatcher     = "session-watcher"
	JobImport      = "schedule-import"
	JobCronRule    = "cron-rule"
	JobDailyRule   = "daily-rule"
)

type automationRuleStore interface {
	ListActive(ctx context.Context, triggerType models.TriggerType) ([]models.AutomationRule, error)
	GetByID(ctx context.Context, id string) (*models.AutomationRule, error)
	UpdateSchedule(ctx context.Context, id string, update models.RuleScheduleUpdate) error
}

type digestRunner interface {
	Run(ctx context.Context, rule *models.AutomationRule) (*DigestResult, error)
}

type watcherTicker interface {
	Tick(ctx context.Context) (*WatchResult, error)
	Interval() time.Duration
}

type scheduleImporter interface {
	Import(ctx context.Context) (*ImportResult, error)
}

// AutomationEngineConfig tunes the scheduler.
type AutomationEngineConfig struct {
	Location    *time.Location
	DigestCron  string
	ImportCron  string
	QueueBuffer int
	Now         func() time.Time
}

// InitializeResult reports what the scheduler registered.
type InitializeResult struct {
	Registered []string `json:"registered"`
	Invalid    []string `json:"invalid,omitempty"`
	System     []string `json:"system"`
}

// EventResult reports the rules run for one domain event.
type EventResult struct {
	Matched   int                `json:"matched"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   []*ExecutionResult `json:"results,omitempty"`
}

// AutomationEngine owns every timer and runs rule actions.
type AutomationEngine struct {
	rules    automationRuleStore
	sessions sessionLister
	digest   digestRunner
	watcher  watcherTicker
	importer scheduleImporter
	executor ruleExecutor
	logs     automationLogAppender
	metrics  automationMetrics
	logger   *zap.Logger
	cfg      AutomationEngineConfig

	cron   *cron.Cron
	queue  *jobs.Queue
	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	started          bool
	systemRegistered []string
	ruleEntries      map[string]cron.EntryID
	reportedInvalid  map[string]struct{}
}

// NewAutomationEngine wires the engine. importer and metrics may be nil.
func NewAutomationEngine(rules automationRuleStore, sessions sessionLister, digest digestRunner, watcher watcherTicker, importer scheduleImporter, executor ruleExecutor, logs automationLogAppender, metrics automationMetrics, logger *zap.Logger, cfg AutomationEngineConfig) *AutomationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DigestCron == "" {
		cfg.DigestCron = "0 8 * * *"
	}

	e := &AutomationEngine{
		rules:           rules,
		sessions:        sessions,
		digest:          digest,
		watcher:         watcher,
		importer:        importer,
		executor:        executor,
		logs:            logs,
		metrics:         metrics,
		logger:          logger,
		cfg:             cfg,
		ruleEntries:     make(map[string]cron.EntryID),
		reportedInvalid: make(map[string]struct{}),
	}
	e.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger{logger.Sugar()}),
	)
	e.queue = jobs.NewQueue("automation", e.handleJob, jobs.QueueConfig{Workers: 1, BufferSize: cfg.QueueBuffer, Logger: logger})
	return e
}

// Initialize (re)registers every timer. Calling it again replaces rule timers
// without duplicating them; invalid rules are reported once and skipped.
func (e *AutomationEngine) Initialize(ctx context.Context) (*InitializeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		e.queue.Start(e.ctx)
		e.cron.Start()
		e.started = true
	}
	if e.systemRegistered == nil {
		e.systemRegistered = e.registerSystemTimers(ctx)
	}

	for id, entry := range e.ruleEntries {
		e.cron.Remove(entry)
		delete(e.ruleEntries, id)
	}

	result := &InitializeResult{Registered: []string{}, System: e.systemRegistered}
	for _, triggerType := range []models.TriggerType{models.TriggerCronSchedule, models.TriggerDailyCoursesMessage} {
		rules, err := e.rules.ListActive(ctx, triggerType)
		if err != nil {
			e.logger.Sugar().Errorw("failed to load automation rules", "trigger_type", triggerType, "error", err)
			e.appendLog(ctx, models.LogTypeScheduler, models.AutomationStatusError, "failed to load rules: "+err.Error(), nil, nil)
			e.metrics.SetRegisteredRules(len(e.ruleEntries))
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load automation rules")
		}
		for _, rule := range rules {
			if e.registerRule(ctx, rule) {
				result.Registered = append(result.Registered, rule.ID)
			} else {
				result.Invalid = append(result.Invalid, rule.ID)
			}
		}
	}
	e.metrics.SetRegisteredRules(len(e.ruleEntries))
	e.logger.Sugar().Infow("automation scheduler initialised", "rules", len(result.Registered), "invalid", len(result.Invalid), "system", result.System)
	return result, nil
}

func (e *AutomationEngine) registerRule(ctx context.Context, rule models.AutomationRule) bool {
	trigger, err := DecodeTrigger(rule, e.cfg.Location)
	if err != nil {
		e.reportInvalid(ctx, rule, err)
		return false
	}
	switch t := trigger.(type) {
	case CronTrigger:
		e.ruleEntries[rule.ID] = e.cron.Schedule(t.Schedule, e.enqueueFunc(JobCronRule, rule.ID))
	case DailyTrigger:
		e.ruleEntries[rule.ID] = e.cron.Schedule(t.Schedule, e.enqueueFunc(JobDailyRule, rule.ID))
		next := t.Schedule.Next(e.cfg.Now()).UTC()
		if err := e.rules.UpdateSchedule(ctx, rule.ID, models.RuleScheduleUpdate{NextSend: &next}); err != nil {
			e.logger.Sugar().Warnw("failed to persist next send", "rule_id", rule.ID, "error", err)
		}
	default:
		return false
	}
	return true
}

func (e *AutomationEngine) registerSystemTimers(ctx context.Context) []string {
	registered := []string{}
	if schedule, err := cronParser.Parse(withTimeZone(e.cfg.DigestCron, e.cfg.Location)); err != nil {
		e.appendLog(ctx, models.LogTypeScheduler, models.AutomationStatusError,
			fmt.Sprintf("invalid digest schedule %q: %v", e.cfg.DigestCron, err), nil, nil)
	} else {
		e.cron.Schedule(schedule, e.enqueueFunc(JobDailyDigest, ""))
		registered = append(registered, JobDailyDigest)
	}

	e.cron.Schedule(cron.Every(e.watcher.Interval()), e.enqueueFunc(JobWatcher, ""))
	registered = append(registered, JobWatcher)

	if e.cfg.ImportCron != "" && e.importer != nil {
		if schedule, err := cronParser.Parse(withTimeZone(e.cfg.ImportCron, e.cfg.Location)); err != nil {
			e.appendLog(ctx, models.LogTypeScheduler, models.AutomationStatusError,
				fmt.Sprintf("invalid import schedule %q: %v", e.cfg.ImportCron, err), nil, nil)
		} else {
			e.cron.Schedule(schedule, e.enqueueFunc(JobImport, ""))
			registered = append(registered, JobImport)
		}
	}
	return registered
}

// Shutdown stops the timers, waits for running jobs and drains the queue.
func (e *AutomationEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	stopped := e.cron.Stop()
	var err error
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.queue.Stop()
	e.cancel()
	e.started = false
	e.logger.Sugar().Infow("automation scheduler stopped")
	return err
}

// RunImportManually runs the schedule import once.
func (e *AutomationEngine) RunImportManually(ctx context.Context) (*ImportResult, error) {
	return e.runImport(ctx)
}

// RunRemindersManually runs one session-proximity tick.
func (e *AutomationEngine) RunRemindersManually(ctx context.Context) (*WatchResult, error) {
	return e.tickWatcher(ctx)
}

func (e *AutomationEngine) tickWatcher(ctx context.Context) (*WatchResult, error) {
	result, err := e.watcher.Tick(ctx)
	if err != nil {
		e.appendLog(ctx, models.LogTypeReminder, models.AutomationStatusError, "watcher tick failed: "+err.Error(), nil, nil)
		return nil, err
	}
	return result, nil
}

// SendDailyMessagesNow runs the digest, for a specific rule when ruleID is set.
func (e *AutomationEngine) SendDailyMessagesNow(ctx context.Context, ruleID string) (*DigestResult, error) {
	if ruleID == "" {
		return e.digest.Run(ctx, nil)
	}
	rule, err := e.loadRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return nil, appErrors.Clone(appErrors.ErrRuleInactive, fmt.Sprintf("rule %q is inactive", rule.Name))
	}
	return e.digest.Run(ctx, rule)
}

// TestAutomation runs a rule's action once, bypassing its trigger.
func (e *AutomationEngine) TestAutomation(ctx context.Context, ruleID string) (*ExecutionResult, error) {
	rule, err := e.loadRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	trigger, err := DecodeTrigger(*rule, e.cfg.Location)
	if err != nil {
		e.appendLog(ctx, models.LogTypeRule, models.AutomationStatusError, err.Error(), rule, nil)
		return nil, err
	}

	actx := ActionContext{}
	switch t := trigger.(type) {
	case DailyTrigger:
		digest, err := e.digest.Run(ctx, rule)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{
			RuleID:  rule.ID,
			Action:  rule.ActionType,
			Message: fmt.Sprintf("daily digest: %d sent, %d failed, %d skipped", digest.Sent, digest.Failed, digest.Skipped),
		}, nil
	case SessionOffsetTrigger:
		actx.Session = e.nextSession(ctx)
	case EntityTrigger:
		actx.EntityID = t.EntityID
	}

	result, err := e.executor.Execute(ctx, *rule, actx)
	if err != nil {
		e.appendLog(ctx, models.LogTypeRule, models.AutomationStatusError, fmt.Sprintf("test of rule %q failed: %v", rule.Name, err), rule, actx.Session)
		return nil, err
	}
	e.appendLog(ctx, models.LogTypeRule, models.AutomationStatusSuccess, fmt.Sprintf("test of rule %q: %s", rule.Name, result.Message), rule, actx.Session)
	return result, nil
}

// HandleEvent runs every active rule of triggerType that matches entityID.
func (e *AutomationEngine) HandleEvent(ctx context.Context, triggerType models.TriggerType, entityID string) (*EventResult, error) {
	switch triggerType {
	case models.TriggerCourseStart, models.TriggerCourseEnd, models.TriggerNewUser:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%q is not an event trigger", triggerType))
	}
	rules, err := e.rules.ListActive(ctx, triggerType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event rules")
	}

	result := &EventResult{}
	for _, rule := range rules {
		trigger, err := DecodeTrigger(rule, e.cfg.Location)
		if err != nil {
			continue
		}
		if !trigger.(EntityTrigger).Matches(entityID) {
			continue
		}
		result.Matched++
		execution, err := e.executor.Execute(ctx, rule, ActionContext{EntityID: entityID})
		if err != nil {
			result.Failed++
			e.appendLog(ctx, models.LogTypeEvent, models.AutomationStatusError, fmt.Sprintf("rule %q failed for %s %s: %v", rule.Name, triggerType, entityID, err), &rule, nil)
			continue
		}
		result.Succeeded++
		result.Results = append(result.Results, execution)
		e.appendLog(ctx, models.LogTypeEvent, models.AutomationStatusSuccess, fmt.Sprintf("rule %q: %s", rule.Name, execution.Message), &rule, nil)
	}
	return result, nil
}

func (e *AutomationEngine) enqueueFunc(jobType, ruleID string) cron.FuncJob {
	return func() {
		job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: ruleID, Key: jobType + ":" + ruleID}
		err := e.queue.Enqueue(job)
		switch {
		case err == nil:
		case errors.Is(err, jobs.ErrPending):
			e.logger.Sugar().Debugw("previous run still queued, skipping", "type", jobType, "rule_id", ruleID)
		default:
			e.logger.Sugar().Warnw("failed to enqueue automation job", "type", jobType, "rule_id", ruleID, "error", err)
		}
	}
}

func (e *AutomationEngine) handleJob(ctx context.Context, job jobs.Job) error {
	start := time.Now()
	defer func() { e.metrics.ObserveJob(job.Type, time.Since(start)) }()

	ruleID, _ := job.Payload.(string)
	switch job.Type {
	case JobDailyDigest:
		_, err := e.digest.Run(ctx, nil)
		return err
	case JobWatcher:
		result, err := e.tickWatcher(ctx)
		if err != nil {
			return err
		}
		if result.Fired > 0 || result.Failed > 0 {
			e.logger.Sugar().Infow("watcher tick", "fired", result.Fired, "failed", result.Failed)
		}
		return nil
	case JobImport:
		_, err := e.runImport(ctx)
		return err
	case JobCronRule:
		return e.fireCronRule(ctx, ruleID)
	case JobDailyRule:
		return e.fireDailyRule(ctx, ruleID)
	default:
		return fmt.Errorf("unknown automation job %q", job.Type)
	}
}

func (e *AutomationEngine) fireCronRule(ctx context.Context, ruleID string) error {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if !rule.IsActive {
		e.logger.Sugar().Infow("skipping inactive rule", "rule_id", rule.ID)
		return nil
	}
	if e.staleEntry(ctx, rule, models.TriggerCronSchedule) {
		return nil
	}
	result, err := e.executor.Execute(ctx, *rule, ActionContext{})
	if err != nil {
		e.appendLog(ctx, models.LogTypeRule, models.AutomationStatusError, fmt.Sprintf("rule %q failed: %v", rule.Name, err), rule, nil)
		return err
	}
	e.appendLog(ctx, models.LogTypeRule, models.AutomationStatusSuccess, fmt.Sprintf("rule %q: %s", rule.Name, result.Message), rule, nil)

	sentAt := e.cfg.Now().UTC()
	update := models.RuleScheduleUpdate{LastSent: &sentAt}
	if trigger, err := DecodeTrigger(*rule, e.cfg.Location); err == nil {
		if cronTrigger, ok := trigger.(CronTrigger); ok {
			next := cronTrigger.Schedule.Next(e.cfg.Now().In(e.cfg.Location)).UTC()
			update.NextSend = &next
		}
	}
	if err := e.rules.UpdateSchedule(ctx, rule.ID, update); err != nil {
		e.logger.Sugar().Warnw("failed to update rule schedule", "rule_id", rule.ID, "error", err)
	}
	return nil
}

func (e *AutomationEngine) fireDailyRule(ctx context.Context, ruleID string) error {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if !rule.IsActive {
		return nil
	}
	if e.staleEntry(ctx, rule, models.TriggerDailyCoursesMessage) {
		return nil
	}
	_, runErr := e.digest.Run(ctx, rule)
	if trigger, err := DecodeTrigger(*rule, e.cfg.Location); err == nil {
		daily, ok := trigger.(DailyTrigger)
		if !ok {
			return runErr
		}
		next := daily.Schedule.Next(e.cfg.Now()).UTC()
		if err := e.rules.UpdateSchedule(ctx, rule.ID, models.RuleScheduleUpdate{NextSend: &next}); err != nil {
			e.logger.Sugar().Warnw("failed to persist next send", "rule_id", rule.ID, "error", err)
		}
	}
	return runErr
}

// staleEntry reports whether a timer registered for a rule no longer matches its trigger type.
// The entry stays until the next Initialize; until then its firings are skipped.
func (e *AutomationEngine) staleEntry(ctx context.Context, rule *models.AutomationRule, registeredAs models.TriggerType) bool {
	if rule.TriggerType == registeredAs {
		return false
	}
	e.logger.Sugar().Warnw("skipping timer for retyped rule", "rule_id", rule.ID, "registered_as", registeredAs, "trigger_type", rule.TriggerType)
	e.appendLog(ctx, models.LogTypeScheduler, models.AutomationStatusError,
		fmt.Sprintf("rule %q was registered as %s but is now %s; re-initialize the scheduler", rule.Name, registeredAs, rule.TriggerType), rule, nil)
	return true
}

func (e *AutomationEngine) runImport(ctx context.Context) (*ImportResult, error) {
	if e.importer == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule import is not configured")
	}
	result, err := e.importer.Import(ctx)
	if err != nil {
		e.appendLog(ctx, models.LogTypeImport, models.AutomationStatusError, "schedule import failed: "+err.Error(), nil, nil)
		return nil, err
	}
	status := models.AutomationStatusSuccess
	if len(result.Errors) > 0 {
		status = models.AutomationStatusError
	}
	e.appendLogDetails(ctx, models.LogTypeImport, status,
		fmt.Sprintf("schedule import: %d created, %d skipped, %d errors", result.Created, result.Skipped, len(result.Errors)),
		map[string]interface{}{"result": result}, nil)
	return result, nil
}

func (e *AutomationEngine) loadRule(ctx context.Context, ruleID string) (*models.AutomationRule, error) {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("automation rule %s not found", ruleID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load automation rule")
	}
	return rule, nil
}

// nextSession picks the earliest session still to start within a day, if any.
func (e *AutomationEngine) nextSession(ctx context.Context) *models.Session {
	now := e.cfg.Now()
	sessions, err := e.sessions.ListInRange(ctx, now.In(e.cfg.Location), now.Add(watcherHorizon).In(e.cfg.Location))
	if err != nil {
		return nil
	}
	var (
		best      *models.Session
		bestStart time.Time
	)
	for i := range sessions {
		start, err := sessions[i].StartsAt(e.cfg.Location)
		if err != nil || start.Before(now) {
			continue
		}
		if best == nil || start.Before(bestStart) {
			best, bestStart = &sessions[i], start
		}
	}
	return best
}

func (e *AutomationEngine) reportInvalid(ctx context.Context, rule models.AutomationRule, err error) {
	key := rule.ID + "|" + rule.TriggerData
	if rule.SendTime != nil {
		key += "|" + *rule.SendTime
	}
	if rule.TimeZone != nil {
		key += "|" + *rule.TimeZone
	}
	if _, seen := e.reportedInvalid[key]; seen {
		return
	}
	e.reportedInvalid[key] = struct{}{}
	e.logger.Sugar().Warnw("automation rule not scheduled", "rule_id", rule.ID, "rule", rule.Name, "error", err)
	e.appendLog(ctx, models.LogTypeScheduler, models.AutomationStatusError,
		fmt.Sprintf("rule %q not scheduled: %v", rule.Name, err), &rule, nil)
}

func (e *AutomationEngine) appendLog(ctx context.Context, logType string, status models.AutomationLogStatus, message string, rule *models.AutomationRule, session *models.Session) {
	e.appendLogDetails(ctx, logType, status, message, ruleDetails(rule), session)
}

func (e *AutomationEngine) appendLogDetails(ctx context.Context, logType string, status models.AutomationLogStatus, message string, details map[string]interface{}, session *models.Session) {
	if e.logs == nil {
		return
	}
	entry := &models.AutomationLogEntry{
		Type:      logType,
		Status:    status,
		Message:   message,
		CreatedAt: e.cfg.Now().UTC(),
	}
	if details != nil {
		entry.Details, _ = json.Marshal(details)
	}
	if session != nil {
		id := session.ID
		entry.RelatedScheduleID = &id
	}
	if err := e.logs.Append(ctx, entry); err != nil {
		e.logger.Sugar().Errorw("failed to write automation log", "type", logType, "error", err)
	}
}

func ruleDetails(rule *models.AutomationRule) map[string]interface{} {
	if rule == nil {
		return nil
	}
	return map[string]interface{}{
		"ruleId":      rule.ID,
		"ruleName":    rule.Name,
		"triggerType": rule.TriggerType,
		"triggerData": rule.TriggerData,
		"actionType":  rule.ActionType,
	}
}

func withTimeZone(expression string, loc *time.Location) string {
	if loc == nil || strings.HasPrefix(expression, "CRON_TZ=") || strings.HasPrefix(expression, "TZ=") || strings.HasPrefix(expression, "@") {
		return expression
	}
	return "CRON_TZ=" + loc.String() + " " + expression
}

// cronLogger routes robfig/cron diagnostics to zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
