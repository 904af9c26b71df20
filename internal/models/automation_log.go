package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AutomationLogStatus is the outcome recorded for an automation attempt.
type AutomationLogStatus string

const (
	AutomationStatusSuccess   AutomationLogStatus = "success"
	AutomationStatusError     AutomationLogStatus = "error"
	AutomationStatusSimulated AutomationLogStatus = "simulated"
)

// Automation log types written by the engine.
const (
	LogTypeScheduler    = "scheduler"
	LogTypeRule         = "rule"
	LogTypeDigest       = "daily-digest"
	LogTypeReminder     = "session-reminder"
	LogTypeMeeting      = "zoom-meeting"
	LogTypeImport       = "import"
	LogTypeEvent        = "event"
	LogTypeNotification = "notification"
)

// AutomationLogEntry is an append-only audit row for one automation attempt.
type AutomationLogEntry struct {
	ID                string              `db:"id" json:"id"`
	Type              string              `db:"type" json:"type"`
	Status            AutomationLogStatus `db:"status" json:"status"`
	Message           string              `db:"message" json:"message"`
	Details           types.JSONText      `db:"details" json:"details,omitempty"`
	RelatedScheduleID *string             `db:"related_schedule_id" json:"related_schedule_id,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}

// AutomationLogFilter narrows automation log listings.
type AutomationLogFilter struct {
	Type      string
	RelatedID string
	Limit     int
}

// ActivityLogEntry records every dispatch attempt made by the notification dispatcher.
type ActivityLogEntry struct {
	ID          string    `db:"id" json:"id"`
	Action      string    `db:"action" json:"action"`
	Destination string    `db:"destination" json:"destination"`
	Description string    `db:"description" json:"description"`
	Success     bool      `db:"success" json:"success"`
	Error       *string   `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MessageLogStatus is the outcome of a digest reminder.
type MessageLogStatus string

const (
	MessageStatusSent  MessageLogStatus = "sent"
	MessageStatusError MessageLogStatus = "error"
)

// MessageLogEntry records one digest reminder attempt for a session.
type MessageLogEntry struct {
	ID          string           `db:"id" json:"id"`
	SessionID   string           `db:"session_id" json:"session_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	RuleID      *string          `db:"rule_id" json:"rule_id,omitempty"`
	Destination string           `db:"destination" json:"destination"`
	Content     string           `db:"content" json:"content"`
	Status      MessageLogStatus `db:"status" json:"status"`
	Error       *string          `db:"error" json:"error,omitempty"`
	SentAt      time.Time        `db:"sent_at" json:"sent_at"`
}
