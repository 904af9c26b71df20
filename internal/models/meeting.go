package models

import "time"

// MeetingStatus tracks a provisioned meeting.
type MeetingStatus string

const (
	MeetingStatusScheduled MeetingStatus = "scheduled"
	MeetingStatusSimulated MeetingStatus = "simulated"
	MeetingStatusStarted   MeetingStatus = "started"
	MeetingStatusEnded     MeetingStatus = "ended"
	MeetingStatusCancelled MeetingStatus = "cancelled"
)

// MeetingRecord is the single meeting provisioned for a session.
type MeetingRecord struct {
	ID                string        `db:"id" json:"id"`
	RelatedScheduleID string        `db:"related_schedule_id" json:"related_schedule_id"`
	ExternalMeetingID string        `db:"external_meeting_id" json:"external_meeting_id"`
	JoinURL           string        `db:"join_url" json:"join_url"`
	StartTime         time.Time     `db:"start_time" json:"start_time"`
	Status            MeetingStatus `db:"status" json:"status"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}
