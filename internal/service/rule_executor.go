package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

type emailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ActionContext carries the entity a rule fired for.
type ActionContext struct {
	Session  *models.Session
	EntityID string
}

// ExecutionResult describes the outcome of one action.
type ExecutionResult struct {
	RuleID   string            `json:"rule_id"`
	Action   models.ActionType `json:"action"`
	Message  string            `json:"message"`
	Targets  []string          `json:"targets,omitempty"`
	Meetings int               `json:"meetings,omitempty"`
}

// RuleExecutorConfig tunes action execution.
type RuleExecutorConfig struct {
	Location        *time.Location
	PlaceholderLink string
	Now             func() time.Time
}

// RuleExecutor runs the action bound to a rule.
type RuleExecutor struct {
	sessions   sessionLister
	courses    courseReader
	users      userReader
	templates  templateReader
	meetings   meetingEnsurer
	dispatcher notificationDispatcher
	mailer     emailSender
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        RuleExecutorConfig
}

// NewRuleExecutor constructs the executor. mailer may be nil when SMTP is disabled.
func NewRuleExecutor(sessions sessionLister, courses courseReader, users userReader, templates templateReader, meetings meetingEnsurer, dispatcher notificationDispatcher, mailer emailSender, validate *validator.Validate, logger *zap.Logger, cfg RuleExecutorConfig) *RuleExecutor {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RuleExecutor{
		sessions:   sessions,
		courses:    courses,
		users:      users,
		templates:  templates,
		meetings:   meetings,
		dispatcher: dispatcher,
		mailer:     mailer,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// Execute performs the rule's action once.
func (e *RuleExecutor) Execute(ctx context.Context, rule models.AutomationRule, actx ActionContext) (*ExecutionResult, error) {
	action, err := DecodeAction(rule, e.validator)
	if err != nil {
		return nil, err
	}
	result := &ExecutionResult{RuleID: rule.ID, Action: rule.ActionType}
	switch rule.ActionType {
	case models.ActionSendMessage:
		err = e.sendMessage(ctx, rule, action, actx, result)
	case models.ActionCreateMeeting:
		err = e.createMeeting(ctx, actx, result)
	case models.ActionSendEmail:
		err = e.sendEmail(ctx, rule, action, actx, result)
	case models.ActionAwardBadge:
		err = e.awardBadge(ctx, action, actx, result)
	default:
		err = appErrors.Clone(appErrors.ErrInvalidAction, fmt.Sprintf("unknown action type %q", rule.ActionType))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *RuleExecutor) sendMessage(ctx context.Context, rule models.AutomationRule, action ActionConfig, actx ActionContext, result *ExecutionResult) error {
	templateType := action.TemplateType
	if templateType == "" {
		templateType = defaultTemplateType(rule.TriggerType)
	}
	tpl, err := resolveTemplate(ctx, e.templates, action.TemplateID, templateType)
	if err != nil {
		return err
	}

	values, course, err := e.contextValues(ctx, action, actx)
	if err != nil {
		return err
	}
	if action.Body != "" {
		values[PlaceholderAnnouncementBody] = action.Body
	}

	destination := action.Destination
	if destination == "" && course != nil {
		destination = course.GroupLink()
	}
	if destination == "" && rule.TriggerType == models.TriggerNewUser && actx.EntityID != "" {
		if user, err := e.users.FindByID(ctx, actx.EntityID); err == nil && user.TelegramChatID != nil {
			destination = *user.TelegramChatID
			values[PlaceholderStudentName] = user.FirstName
		}
	}
	if destination == "" {
		return appErrors.Clone(appErrors.ErrNoDestination, fmt.Sprintf("rule %q has no messaging destination", rule.Name))
	}

	text := RenderTemplate(tpl.Content, values)
	if !e.dispatcher.Dispatch(ctx, destination, text) {
		return appErrors.New(appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "message dispatch failed for "+destination)
	}
	result.Targets = append(result.Targets, destination)
	result.Message = "message sent to " + destination
	return nil
}

func (e *RuleExecutor) createMeeting(ctx context.Context, actx ActionContext, result *ExecutionResult) error {
	sessions := []models.Session{}
	if actx.Session != nil {
		sessions = append(sessions, *actx.Session)
	} else {
		now := e.cfg.Now().In(e.cfg.Location)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.cfg.Location)
		list, err := e.sessions.ListInRange(ctx, today, today)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
		}
		sessions = list
	}

	var failures []error
	for i := range sessions {
		session := &sessions[i]
		start, err := session.StartsAt(e.cfg.Location)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		course, _ := e.courses.GetByID(ctx, session.CourseID)
		record, err := e.meetings.EnsureMeeting(ctx, session, meetingTopic(course, start))
		if err != nil {
			failures = append(failures, err)
			continue
		}
		result.Meetings++
		result.Targets = append(result.Targets, record.JoinURL)
	}
	result.Message = fmt.Sprintf("%d meeting(s) ensured, %d failed", result.Meetings, len(failures))
	if len(failures) > 0 && result.Meetings == 0 {
		return appErrors.Wrap(errors.Join(failures...), appErrors.ErrMeetingFailed.Code, appErrors.ErrMeetingFailed.Status, result.Message)
	}
	return nil
}

func (e *RuleExecutor) sendEmail(ctx context.Context, rule models.AutomationRule, action ActionConfig, actx ActionContext, result *ExecutionResult) error {
	if e.mailer == nil {
		return appErrors.Clone(appErrors.ErrInvalidAction, "email delivery is not configured")
	}
	values, course, err := e.contextValues(ctx, action, actx)
	if err != nil {
		return err
	}

	to := action.EmailTo
	if to == "" && actx.Session != nil && actx.Session.ProfessorID != nil {
		if user, err := e.users.FindByID(ctx, *actx.Session.ProfessorID); err == nil && user.Email != nil {
			to = *user.Email
		}
	}
	if to == "" && rule.TriggerType == models.TriggerNewUser && actx.EntityID != "" {
		if user, err := e.users.FindByID(ctx, actx.EntityID); err == nil && user.Email != nil {
			to = *user.Email
			values[PlaceholderStudentName] = user.FirstName
		}
	}
	if to == "" {
		return appErrors.Clone(appErrors.ErrNoDestination, fmt.Sprintf("rule %q has no email recipient", rule.Name))
	}

	body := action.Body
	if action.TemplateID != "" || action.TemplateType != "" {
		tpl, err := resolveTemplate(ctx, e.templates, action.TemplateID, action.TemplateType)
		if err != nil {
			return err
		}
		values[PlaceholderAnnouncementBody] = action.Body
		body = RenderTemplate(tpl.Content, values)
	}
	if body == "" {
		return appErrors.Clone(appErrors.ErrTemplateMissing, fmt.Sprintf("rule %q has no email body", rule.Name))
	}
	subject := action.Subject
	if subject == "" {
		subject = rule.Name
		if course != nil {
			subject = course.Name + " - " + rule.Name
		}
	}
	if err := e.mailer.SendEmail(ctx, to, RenderTemplate(subject, values), body); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "email delivery failed")
	}
	result.Targets = append(result.Targets, to)
	result.Message = "email sent to " + to
	return nil
}

func (e *RuleExecutor) awardBadge(ctx context.Context, action ActionConfig, actx ActionContext, result *ExecutionResult) error {
	userID := action.UserID
	if userID == "" {
		userID = actx.EntityID
	}
	if userID == "" {
		return appErrors.Clone(appErrors.ErrInvalidAction, "award-badge needs a user")
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "badge recipient not found")
	}
	tpl, err := resolveTemplate(ctx, e.templates, action.TemplateID, models.TemplateBadgeAward)
	if err != nil {
		return err
	}

	destination := action.Destination
	if user.TelegramChatID != nil && *user.TelegramChatID != "" {
		destination = *user.TelegramChatID
	}
	if destination == "" {
		return appErrors.Clone(appErrors.ErrNoDestination, fmt.Sprintf("user %s has no messaging chat", user.ID))
	}
	text := RenderTemplate(tpl.Content, map[string]string{
		PlaceholderStudentName: user.FirstName,
		PlaceholderBadgeName:   action.BadgeName,
	})
	if !e.dispatcher.Dispatch(ctx, destination, text) {
		return appErrors.New(appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "badge notification failed for "+destination)
	}
	result.Targets = append(result.Targets, destination)
	result.Message = fmt.Sprintf("badge %q awarded to %s", action.BadgeName, user.DisplayName())
	return nil
}

// contextValues resolves the session and course a rule acts on into placeholder values.
func (e *RuleExecutor) contextValues(ctx context.Context, action ActionConfig, actx ActionContext) (map[string]string, *models.Course, error) {
	values := map[string]string{}
	courseID := action.CourseID
	if courseID == "" && actx.Session != nil {
		courseID = actx.Session.CourseID
	}
	var course *models.Course
	if courseID != "" {
		c, err := e.courses.GetByID(ctx, courseID)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, fmt.Sprintf("course %s not found", courseID))
		}
		course = c
		values[PlaceholderCourseName] = course.Name
	}
	if actx.Session != nil {
		start, err := actx.Session.StartsAt(e.cfg.Location)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session start")
		}
		link := sessionLink(actx.Session)
		if link == "" && !actx.Session.HasMeeting() && e.meetings != nil {
			record, err := e.meetings.EnsureMeeting(ctx, actx.Session, meetingTopic(course, start))
			if err != nil {
				e.logger.Sugar().Warnw("sending without meeting link", "session_id", actx.Session.ID, "error", err)
			} else {
				link = record.JoinURL
			}
		}
		if link == "" {
			link = e.cfg.PlaceholderLink
		}
		for k, v := range sessionValues(course, instructorName(ctx, e.users, actx.Session.ProfessorID), link, start, e.cfg.Now()) {
			values[k] = v
		}
	}
	return values, course, nil
}

func defaultTemplateType(trigger models.TriggerType) models.TemplateType {
	switch trigger {
	case models.TriggerSessionBefore, models.TriggerSessionAfter, models.TriggerDailyCoursesMessage:
		return models.TemplateCourseReminder
	case models.TriggerNewUser:
		return models.TemplateWelcome
	default:
		return models.TemplateAnnouncement
	}
}
