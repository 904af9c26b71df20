package models

import "time"

// TemplateType classifies message templates.
type TemplateType string

const (
	TemplateCourseReminder TemplateType = "course-reminder"
	TemplateAnnouncement   TemplateType = "announcement"
	TemplateBadgeAward     TemplateType = "badge-award"
	TemplateWelcome        TemplateType = "welcome"
)

// TemplateMessage holds a message body with placeholders.
type TemplateMessage struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Type      TemplateType `db:"type" json:"type"`
	Content   string       `db:"content" json:"content"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}
