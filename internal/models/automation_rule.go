package models

import "time"

// TriggerType selects what causes a rule to fire.
type TriggerType string

const (
	TriggerCronSchedule        TriggerType = "cron-schedule"
	TriggerSessionBefore       TriggerType = "session-before"
	TriggerSessionAfter        TriggerType = "session-after"
	TriggerCourseStart         TriggerType = "course-start"
	TriggerCourseEnd           TriggerType = "course-end"
	TriggerNewUser             TriggerType = "new-user"
	TriggerDailyCoursesMessage TriggerType = "daily-courses-message"
)

// ActionType selects what a rule does when it fires.
type ActionType string

const (
	ActionSendMessage   ActionType = "send-message"
	ActionCreateMeeting ActionType = "create-meeting"
	ActionSendEmail     ActionType = "send-email"
	ActionAwardBadge    ActionType = "award-badge"
)

// AutomationRule is a persisted trigger to action binding.
type AutomationRule struct {
	ID          string      `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Description *string     `db:"description" json:"description,omitempty"`
	TriggerType TriggerType `db:"trigger_type" json:"trigger_type"`
	TriggerData string      `db:"trigger_data" json:"trigger_data"`
	ActionType  ActionType  `db:"action_type" json:"action_type"`
	ActionData  string      `db:"action_data" json:"action_data"`
	IsActive    bool        `db:"is_active" json:"is_active"`
	SendTime    *string     `db:"send_time" json:"send_time,omitempty"`
	TimeZone    *string     `db:"time_zone" json:"time_zone,omitempty"`
	LastSent    *time.Time  `db:"last_sent" json:"last_sent,omitempty"`
	NextSend    *time.Time  `db:"next_send" json:"next_send,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// RuleScheduleUpdate carries the engine-owned fields of a rule.
type RuleScheduleUpdate struct {
	LastSent *time.Time
	NextSend *time.Time
}
