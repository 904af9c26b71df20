package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

type meetingEnsurer interface {
	EnsureMeeting(ctx context.Context, session *models.Session, topic string) (*models.MeetingRecord, error)
}

type notificationDispatcher interface {
	Dispatch(ctx context.Context, destination, text string) bool
}

type messageLogWriter interface {
	Append(ctx context.Context, entry *models.MessageLogEntry) error
}

type ruleScheduleWriter interface {
	UpdateSchedule(ctx context.Context, id string, update models.RuleScheduleUpdate) error
}

// DailyDigestConfig tunes the digest job.
type DailyDigestConfig struct {
	Location        *time.Location
	PlaceholderLink string
	Now             func() time.Time
}

// DigestResult summarises one digest run.
type DigestResult struct {
	Date     string `json:"date"`
	Sessions int    `json:"sessions"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

// DailyDigest sends one reminder per session scheduled today.
type DailyDigest struct {
	sessions    sessionLister
	courses     courseReader
	users       userReader
	templates   templateReader
	meetings    meetingEnsurer
	dispatcher  notificationDispatcher
	messageLogs messageLogWriter
	rules       ruleScheduleWriter
	logs        automationLogAppender
	logger      *zap.Logger
	cfg         DailyDigestConfig
}

// NewDailyDigest constructs the digest job.
func NewDailyDigest(sessions sessionLister, courses courseReader, users userReader, templates templateReader, meetings meetingEnsurer, dispatcher notificationDispatcher, messageLogs messageLogWriter, rules ruleScheduleWriter, logs automationLogAppender, logger *zap.Logger, cfg DailyDigestConfig) *DailyDigest {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DailyDigest{
		sessions:    sessions,
		courses:     courses,
		users:       users,
		templates:   templates,
		meetings:    meetings,
		dispatcher:  dispatcher,
		messageLogs: messageLogs,
		rules:       rules,
		logs:        logs,
		logger:      logger,
		cfg:         cfg,
	}
}

// Run processes today's sessions. rule is nil for the system safety-net run.
// Running twice on the same day sends the reminders twice.
func (d *DailyDigest) Run(ctx context.Context, rule *models.AutomationRule) (*DigestResult, error) {
	loc := d.cfg.Location
	if rule != nil && rule.TimeZone != nil && *rule.TimeZone != "" {
		if ruleLoc, err := time.LoadLocation(*rule.TimeZone); err == nil {
			loc = ruleLoc
		}
	}
	now := d.cfg.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	result := &DigestResult{Date: today.Format("2006-01-02")}

	sessions, err := d.sessions.ListInRange(ctx, today, today)
	if err != nil {
		d.summary(ctx, rule, models.AutomationStatusError, "failed to load today's sessions: "+err.Error(), result)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}

	type scheduled struct {
		session models.Session
		start   time.Time
	}
	queue := make([]scheduled, 0, len(sessions))
	for _, session := range sessions {
		start, err := session.StartsAt(loc)
		if err != nil {
			d.logger.Sugar().Warnw("skipping session with invalid time", "session_id", session.ID, "error", err)
			result.Skipped++
			continue
		}
		queue = append(queue, scheduled{session: session, start: start})
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].start.Before(queue[j].start) })

	content := d.reminderContent(ctx, rule)

	for i := range queue {
		result.Sessions++
		d.processSession(ctx, rule, &queue[i].session, queue[i].start, now, content, result)
	}

	if rule != nil && d.rules != nil {
		sentAt := d.cfg.Now().UTC()
		if err := d.rules.UpdateSchedule(ctx, rule.ID, models.RuleScheduleUpdate{LastSent: &sentAt}); err != nil {
			d.logger.Sugar().Errorw("failed to update rule last sent", "rule_id", rule.ID, "error", err)
		}
	}

	status := models.AutomationStatusSuccess
	if result.Failed > 0 {
		status = models.AutomationStatusError
	}
	d.summary(ctx, rule, status, fmt.Sprintf("daily digest %s: %d sent, %d failed, %d skipped", result.Date, result.Sent, result.Failed, result.Skipped), result)
	return result, nil
}

func (d *DailyDigest) processSession(ctx context.Context, rule *models.AutomationRule, session *models.Session, start, now time.Time, content string, result *DigestResult) {
	course, err := d.courses.GetByID(ctx, session.CourseID)
	if err != nil {
		d.logger.Sugar().Warnw("digest skipped session without course", "session_id", session.ID, "course_id", session.CourseID, "error", err)
		result.Skipped++
		return
	}
	destination := course.GroupLink()
	if destination == "" {
		result.Skipped++
		return
	}

	link := sessionLink(session)
	if link == "" && !session.HasMeeting() && d.meetings != nil {
		record, err := d.meetings.EnsureMeeting(ctx, session, meetingTopic(course, start))
		if err != nil {
			d.logger.Sugar().Warnw("digest continuing without meeting", "session_id", session.ID, "error", err)
		} else {
			link = record.JoinURL
		}
	}
	if link == "" {
		link = d.cfg.PlaceholderLink
	}

	values := sessionValues(course, instructorName(ctx, d.users, session.ProfessorID), link, start, now)
	text := RenderTemplate(content, values)

	entry := &models.MessageLogEntry{
		SessionID:   session.ID,
		CourseID:    course.ID,
		Destination: destination,
		Content:     text,
		Status:      models.MessageStatusSent,
		SentAt:      d.cfg.Now().UTC(),
	}
	if rule != nil {
		entry.RuleID = &rule.ID
	}
	if d.dispatcher.Dispatch(ctx, destination, text) {
		result.Sent++
	} else {
		result.Failed++
		entry.Status = models.MessageStatusError
		msg := "dispatch failed"
		entry.Error = &msg
	}
	if err := d.messageLogs.Append(ctx, entry); err != nil {
		d.logger.Sugar().Errorw("failed to write message log", "session_id", session.ID, "error", err)
	}
}

func (d *DailyDigest) reminderContent(ctx context.Context, rule *models.AutomationRule) string {
	var templateID string
	if rule != nil {
		if action, err := DecodeAction(*rule, nil); err == nil {
			templateID = action.TemplateID
		}
	}
	tpl, err := resolveTemplate(ctx, d.templates, templateID, models.TemplateCourseReminder)
	if err != nil {
		d.logger.Sugar().Warnw("using built-in reminder text", "template_id", templateID, "error", err)
		return defaultReminderContent
	}
	return tpl.Content
}

func (d *DailyDigest) summary(ctx context.Context, rule *models.AutomationRule, status models.AutomationLogStatus, message string, result *DigestResult) {
	if d.logs == nil {
		return
	}
	details := map[string]interface{}{"result": result}
	if rule != nil {
		details["ruleId"] = rule.ID
		details["ruleName"] = rule.Name
	}
	raw, _ := json.Marshal(details)
	entry := &models.AutomationLogEntry{
		Type:      models.LogTypeDigest,
		Status:    status,
		Message:   message,
		Details:   raw,
		CreatedAt: d.cfg.Now().UTC(),
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.Sugar().Errorw("failed to write digest log", "error", err)
	}
}
