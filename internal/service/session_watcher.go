package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

const watcherHorizon = 24 * time.Hour

type activeRuleLister interface {
	ListActive(ctx context.Context, triggerType models.TriggerType) ([]models.AutomationRule, error)
}

type firingStore interface {
	Claim(ctx context.Context, ruleID, sessionID string, firedAt time.Time) (bool, error)
}

type ruleExecutor interface {
	Execute(ctx context.Context, rule models.AutomationRule, actx ActionContext) (*ExecutionResult, error)
}

// SessionWatcherConfig tunes the proximity watcher.
type SessionWatcherConfig struct {
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time
}

// WatchResult summarises one tick.
type WatchResult struct {
	Rules    int `json:"rules"`
	Sessions int `json:"sessions"`
	Fired    int `json:"fired"`
	Failed   int `json:"failed"`
}

// SessionWatcher fires session-relative rules once per (rule, session) when the
// trigger instant falls inside the current tick window.
type SessionWatcher struct {
	rules    activeRuleLister
	sessions sessionLister
	firings  firingStore
	executor ruleExecutor
	schedule ruleScheduleWriter
	logs     automationLogAppender
	logger   *zap.Logger
	cfg      SessionWatcherConfig

	mu       sync.Mutex
	reported map[string]string
}

// NewSessionWatcher constructs the watcher.
func NewSessionWatcher(rules activeRuleLister, sessions sessionLister, firings firingStore, executor ruleExecutor, schedule ruleScheduleWriter, logs automationLogAppender, logger *zap.Logger, cfg SessionWatcherConfig) *SessionWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionWatcher{
		rules:    rules,
		sessions: sessions,
		firings:  firings,
		executor: executor,
		schedule: schedule,
		logs:     logs,
		logger:   logger,
		cfg:      cfg,
		reported: make(map[string]string),
	}
}

// Interval is the tick period the window is sized to.
func (w *SessionWatcher) Interval() time.Duration {
	return w.cfg.Interval
}

type offsetRule struct {
	rule    models.AutomationRule
	trigger SessionOffsetTrigger
}

// Tick evaluates every active session rule against sessions within a day of now.
func (w *SessionWatcher) Tick(ctx context.Context) (*WatchResult, error) {
	now := w.cfg.Now()
	windowStart := now.Add(-w.cfg.Interval)
	result := &WatchResult{}

	var rules []offsetRule
	for _, triggerType := range []models.TriggerType{models.TriggerSessionBefore, models.TriggerSessionAfter} {
		list, err := w.rules.ListActive(ctx, triggerType)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session rules")
		}
		for _, rule := range list {
			trigger, err := DecodeTrigger(rule, w.cfg.Location)
			if err != nil {
				w.reportInvalid(ctx, rule, err)
				continue
			}
			rules = append(rules, offsetRule{rule: rule, trigger: trigger.(SessionOffsetTrigger)})
		}
	}
	result.Rules = len(rules)
	if len(rules) == 0 {
		return result, nil
	}

	sessions, err := w.sessions.ListInRange(ctx, now.Add(-watcherHorizon).In(w.cfg.Location), now.Add(watcherHorizon).In(w.cfg.Location))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	result.Sessions = len(sessions)

	for i := range sessions {
		session := &sessions[i]
		start, err := session.StartsAt(w.cfg.Location)
		if err != nil {
			w.logger.Sugar().Warnw("watcher skipped session with invalid time", "session_id", session.ID, "error", err)
			continue
		}
		for _, r := range rules {
			fireAt := r.trigger.FireTime(start)
			if fireAt.Before(windowStart) || fireAt.After(now) {
				continue
			}
			fired, err := w.fire(ctx, r.rule, session, fireAt)
			if err != nil {
				result.Failed++
				continue
			}
			if fired {
				result.Fired++
			}
		}
	}
	return result, nil
}

func (w *SessionWatcher) fire(ctx context.Context, rule models.AutomationRule, session *models.Session, fireAt time.Time) (bool, error) {
	claimed, err := w.firings.Claim(ctx, rule.ID, session.ID, w.cfg.Now())
	if err != nil {
		w.logger.Sugar().Errorw("failed to claim firing", "rule_id", rule.ID, "session_id", session.ID, "error", err)
		w.appendLog(ctx, rule, session.ID, models.AutomationStatusError, "could not record firing: "+err.Error(), nil)
		return false, err
	}
	if !claimed {
		return false, nil
	}

	result, err := w.executor.Execute(ctx, rule, ActionContext{Session: session})
	if err != nil {
		w.logger.Sugar().Warnw("session rule failed", "rule_id", rule.ID, "session_id", session.ID, "error", err)
		w.appendLog(ctx, rule, session.ID, models.AutomationStatusError, fmt.Sprintf("rule %q failed: %v", rule.Name, err), map[string]interface{}{"fireAt": fireAt})
		return false, err
	}
	w.appendLog(ctx, rule, session.ID, models.AutomationStatusSuccess, fmt.Sprintf("rule %q: %s", rule.Name, result.Message), map[string]interface{}{"fireAt": fireAt, "targets": result.Targets})
	if w.schedule != nil {
		sentAt := w.cfg.Now().UTC()
		if err := w.schedule.UpdateSchedule(ctx, rule.ID, models.RuleScheduleUpdate{LastSent: &sentAt}); err != nil {
			w.logger.Sugar().Warnw("failed to update rule last sent", "rule_id", rule.ID, "error", err)
		}
	}
	return true, nil
}

// reportInvalid logs a broken rule once per distinct trigger data.
func (w *SessionWatcher) reportInvalid(ctx context.Context, rule models.AutomationRule, err error) {
	w.mu.Lock()
	if w.reported[rule.ID] == rule.TriggerData {
		w.mu.Unlock()
		return
	}
	w.reported[rule.ID] = rule.TriggerData
	w.mu.Unlock()
	w.appendLog(ctx, rule, "", models.AutomationStatusError, err.Error(), map[string]interface{}{"triggerData": rule.TriggerData})
}

func (w *SessionWatcher) appendLog(ctx context.Context, rule models.AutomationRule, sessionID string, status models.AutomationLogStatus, message string, details map[string]interface{}) {
	if w.logs == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["ruleId"] = rule.ID
	details["ruleName"] = rule.Name
	raw, _ := json.Marshal(details)
	entry := &models.AutomationLogEntry{
		Type:      models.LogTypeReminder,
		Status:    status,
		Message:   message,
		Details:   raw,
		CreatedAt: w.cfg.Now().UTC(),
	}
	if sessionID != "" {
		entry.RelatedScheduleID = &sessionID
	}
	if err := w.logs.Append(ctx, entry); err != nil {
		w.logger.Sugar().Errorw("failed to write watcher log", "rule_id", rule.ID, "error", err)
	}
}
