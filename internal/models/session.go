package models

import (
	"fmt"
	"time"
)

// SessionStatus tracks a session through its lifecycle.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session is one scheduled occurrence of a course.
type Session struct {
	ID              string        `db:"id" json:"id"`
	CourseID        string        `db:"course_id" json:"course_id"`
	ProfessorID     *string       `db:"professor_id" json:"professor_id,omitempty"`
	ScheduledDate   time.Time     `db:"scheduled_date" json:"scheduled_date"`
	ScheduledTime   string        `db:"scheduled_time" json:"scheduled_time"`
	TimeZone        string        `db:"time_zone" json:"time_zone"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	MeetingID       *string       `db:"meeting_id" json:"meeting_id,omitempty"`
	MeetingURL      *string       `db:"meeting_url" json:"meeting_url,omitempty"`
	Status          SessionStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Location resolves the session time zone, falling back when unset or unknown.
func (s *Session) Location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if s.TimeZone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return fallback
	}
	return loc
}

// StartsAt combines the scheduled date and HH:MM time in the session time zone.
func (s *Session) StartsAt(fallback *time.Location) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s.ScheduledTime, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("session %s: invalid scheduled time %q: %w", s.ID, s.ScheduledTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("session %s: scheduled time %q out of range", s.ID, s.ScheduledTime)
	}
	y, m, d := s.ScheduledDate.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, s.Location(fallback)), nil
}

// HasMeeting reports whether a meeting was already provisioned.
func (s *Session) HasMeeting() bool {
	return s.MeetingID != nil && *s.MeetingID != ""
}

// SessionMeetingUpdate sets the provisioned meeting on a session.
type SessionMeetingUpdate struct {
	MeetingID  string
	MeetingURL string
}

// Course is read-only from the automation engine's perspective.
type Course struct {
	ID                string  `db:"id" json:"id"`
	Name              string  `db:"name" json:"name"`
	Level             string  `db:"level" json:"level"`
	TelegramGroupLink *string `db:"telegram_group_link" json:"telegram_group_link,omitempty"`
}

// GroupLink returns the messaging group link or an empty string.
func (c *Course) GroupLink() string {
	if c == nil || c.TelegramGroupLink == nil {
		return ""
	}
	return *c.TelegramGroupLink
}
