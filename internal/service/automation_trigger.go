package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Trigger is the decoded form of a rule's trigger data.
type Trigger interface {
	Type() models.TriggerType
}

// CronTrigger fires on a five-field cron expression.
type CronTrigger struct {
	Expression string
	Schedule   cron.Schedule
}

// Type implements Trigger.
func (CronTrigger) Type() models.TriggerType { return models.TriggerCronSchedule }

// OffsetDirection says whether an offset is applied before or after a session start.
type OffsetDirection int

const (
	OffsetBefore OffsetDirection = -1
	OffsetAfter  OffsetDirection = 1
)

// SessionOffsetTrigger fires a fixed duration before or after a session starts.
type SessionOffsetTrigger struct {
	Offset    time.Duration
	Direction OffsetDirection
}

// Type implements Trigger.
func (t SessionOffsetTrigger) Type() models.TriggerType {
	if t.Direction == OffsetAfter {
		return models.TriggerSessionAfter
	}
	return models.TriggerSessionBefore
}

// FireTime returns the instant the trigger is due for a session starting at start.
func (t SessionOffsetTrigger) FireTime(start time.Time) time.Time {
	return start.Add(time.Duration(t.Direction) * t.Offset)
}

// EntityTrigger fires on a domain event, optionally scoped to one entity.
type EntityTrigger struct {
	Kind     models.TriggerType
	EntityID string
}

// Type implements Trigger.
func (t EntityTrigger) Type() models.TriggerType { return t.Kind }

// Matches reports whether an event for entityID concerns this trigger.
func (t EntityTrigger) Matches(entityID string) bool {
	return t.EntityID == "" || t.EntityID == entityID
}

// DailyTrigger fires once a day at a local wall-clock time.
type DailyTrigger struct {
	Hour       int
	Minute     int
	Location   *time.Location
	Expression string
	Schedule   cron.Schedule
}

// Type implements Trigger.
func (DailyTrigger) Type() models.TriggerType { return models.TriggerDailyCoursesMessage }

// DecodeTrigger validates and decodes a rule's trigger. Failures wrap ErrInvalidTrigger.
func DecodeTrigger(rule models.AutomationRule, defaultLoc *time.Location) (Trigger, error) {
	data := strings.TrimSpace(rule.TriggerData)
	switch rule.TriggerType {
	case models.TriggerCronSchedule:
		schedule, err := cronParser.Parse(data)
		if err != nil {
			return nil, invalidTrigger(rule, fmt.Errorf("cron expression %q: %w", data, err))
		}
		return CronTrigger{Expression: data, Schedule: schedule}, nil
	case models.TriggerSessionBefore, models.TriggerSessionAfter:
		seconds, err := strconv.ParseInt(data, 10, 64)
		if err != nil || seconds < 0 {
			return nil, invalidTrigger(rule, fmt.Errorf("offset %q is not a non-negative number of seconds", data))
		}
		direction := OffsetBefore
		if rule.TriggerType == models.TriggerSessionAfter {
			direction = OffsetAfter
		}
		return SessionOffsetTrigger{Offset: time.Duration(seconds) * time.Second, Direction: direction}, nil
	case models.TriggerCourseStart, models.TriggerCourseEnd, models.TriggerNewUser:
		return EntityTrigger{Kind: rule.TriggerType, EntityID: data}, nil
	case models.TriggerDailyCoursesMessage:
		return decodeDaily(rule, defaultLoc)
	default:
		return nil, invalidTrigger(rule, fmt.Errorf("unknown trigger type %q", rule.TriggerType))
	}
}

func decodeDaily(rule models.AutomationRule, defaultLoc *time.Location) (Trigger, error) {
	sendTime := strings.TrimSpace(rule.TriggerData)
	if rule.SendTime != nil && strings.TrimSpace(*rule.SendTime) != "" {
		sendTime = strings.TrimSpace(*rule.SendTime)
	}
	hour, minute, err := parseClock(sendTime)
	if err != nil {
		return nil, invalidTrigger(rule, err)
	}
	loc := defaultLoc
	if loc == nil {
		loc = time.UTC
	}
	if rule.TimeZone != nil && *rule.TimeZone != "" {
		if loc, err = time.LoadLocation(*rule.TimeZone); err != nil {
			return nil, invalidTrigger(rule, fmt.Errorf("time zone %q: %w", *rule.TimeZone, err))
		}
	}
	expression := fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), minute, hour)
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, invalidTrigger(rule, fmt.Errorf("derived expression %q: %w", expression, err))
	}
	return DailyTrigger{Hour: hour, Minute: minute, Location: loc, Expression: expression, Schedule: schedule}, nil
}

func parseClock(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("send time %q is not HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("send time %q has an invalid hour", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("send time %q has an invalid minute", value)
	}
	return hour, minute, nil
}

func invalidTrigger(rule models.AutomationRule, err error) error {
	return appErrors.Wrap(err, appErrors.ErrInvalidTrigger.Code, appErrors.ErrInvalidTrigger.Status,
		fmt.Sprintf("rule %q has an invalid %s trigger", rule.Name, rule.TriggerType))
}

// ActionConfig is the decoded form of a rule's action data.
type ActionConfig struct {
	TemplateID   string              `json:"templateId"`
	TemplateType models.TemplateType `json:"templateType" validate:"omitempty,oneof=course-reminder announcement badge-award welcome"`
	Destination  string              `json:"destination"`
	CourseID     string              `json:"courseId"`
	EmailTo      string              `json:"emailTo" validate:"omitempty,email"`
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	BadgeName    string              `json:"badgeName"`
	UserID       string              `json:"userId"`
	Duration     int                 `json:"durationMinutes" validate:"gte=0,lte=1440"`
}

// DecodeAction parses action data. A bare string is a template id; a JSON object
// carries the structured config.
func DecodeAction(rule models.AutomationRule, validate *validator.Validate) (ActionConfig, error) {
	var cfg ActionConfig
	data := strings.TrimSpace(rule.ActionData)
	if data == "" {
		return cfg, nil
	}
	if !strings.HasPrefix(data, "{") {
		if gjson.Valid(data) && gjson.Parse(data).Type == gjson.String {
			data = gjson.Parse(data).String()
		}
		cfg.TemplateID = data
		return cfg, nil
	}
	if !gjson.Valid(data) {
		return cfg, invalidAction(rule, fmt.Errorf("action data is not valid JSON"))
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return cfg, invalidAction(rule, err)
	}
	if validate != nil {
		if err := validate.Struct(cfg); err != nil {
			return cfg, invalidAction(rule, err)
		}
	}
	return cfg, nil
}

func invalidAction(rule models.AutomationRule, err error) error {
	return appErrors.Wrap(err, appErrors.ErrInvalidAction.Code, appErrors.ErrInvalidAction.Status,
		fmt.Sprintf("rule %q has invalid %s action data", rule.Name, rule.ActionType))
}
