package service

import "strings"

// Placeholder keys understood by RenderTemplate.
const (
	PlaceholderCourseName       = "COURSE_NAME"
	PlaceholderInstructorName   = "INSTRUCTOR_NAME"
	PlaceholderSessionTime      = "SESSION_TIME"
	PlaceholderSessionDate      = "SESSION_DATE"
	PlaceholderMeetingLink      = "MEETING_LINK"
	PlaceholderMinutesRemaining = "MINUTES_REMAINING"
	PlaceholderAnnouncementBody = "ANNOUNCEMENT_BODY"
	PlaceholderStudentName      = "STUDENT_NAME"
	PlaceholderBadgeName        = "BADGE_NAME"
)

// placeholderTokens maps each key to the token written in templates.
var placeholderTokens = []struct {
	key   string
	token string
}{
	{PlaceholderCourseName, "[Nom du Cours]"},
	{PlaceholderInstructorName, "[Nom du Professeur]"},
	{PlaceholderSessionTime, "[Heure]"},
	{PlaceholderSessionDate, "[Date]"},
	{PlaceholderMeetingLink, "[Lien Zoom]"},
	{PlaceholderMinutesRemaining, "[Minutes]"},
	{PlaceholderAnnouncementBody, "[Contenu]"},
	{PlaceholderStudentName, "[Prénom]"},
	{PlaceholderBadgeName, "[Nom du Badge]"},
}

// PlaceholderToken returns the template token for a key, or "" when unknown.
func PlaceholderToken(key string) string {
	for _, p := range placeholderTokens {
		if p.key == key {
			return p.token
		}
	}
	return ""
}

// RenderTemplate replaces every known token in tpl with its value. Missing values
// render as empty strings and unrecognised tokens are left untouched.
func RenderTemplate(tpl string, values map[string]string) string {
	pairs := make([]string, 0, len(placeholderTokens)*2)
	for _, p := range placeholderTokens {
		pairs = append(pairs, p.token, values[p.key])
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
