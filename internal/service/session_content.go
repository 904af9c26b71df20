package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

const (
	defaultInstructorName  = "Instructor"
	defaultReminderContent = "Rappel : le cours [Nom du Cours] avec [Nom du Professeur] a lieu le [Date] à [Heure].\nLien : [Lien Zoom]"
)

type courseReader interface {
	GetByID(ctx context.Context, id string) (*models.Course, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type templateReader interface {
	GetByID(ctx context.Context, id string) (*models.TemplateMessage, error)
	ListByType(ctx context.Context, templateType models.TemplateType) ([]models.TemplateMessage, error)
}

type sessionLister interface {
	ListInRange(ctx context.Context, start, end time.Time) ([]models.Session, error)
}

// resolveTemplate picks a template by id when given, otherwise the first of templateType.
func resolveTemplate(ctx context.Context, templates templateReader, id string, templateType models.TemplateType) (*models.TemplateMessage, error) {
	if id != "" {
		tpl, err := templates.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrTemplateMissing, fmt.Sprintf("template %s not found", id))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
		}
		return tpl, nil
	}
	list, err := templates.ListByType(ctx, templateType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	if len(list) == 0 {
		return nil, appErrors.Clone(appErrors.ErrTemplateMissing, fmt.Sprintf("no %s template", templateType))
	}
	return &list[0], nil
}

// instructorName resolves the professor's display name with a generic fallback.
func instructorName(ctx context.Context, users userReader, professorID *string) string {
	if users == nil || professorID == nil || *professorID == "" {
		return defaultInstructorName
	}
	user, err := users.FindByID(ctx, *professorID)
	if err != nil || user.DisplayName() == "" {
		return defaultInstructorName
	}
	return user.DisplayName()
}

// sessionValues builds the placeholder values describing one session.
func sessionValues(course *models.Course, instructor, link string, start, now time.Time) map[string]string {
	loc := start.Location()
	minutes := int(start.Sub(now) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	values := map[string]string{
		PlaceholderInstructorName:   instructor,
		PlaceholderSessionTime:      fmt.Sprintf("%s (%s)", start.Format("15:04"), loc.String()),
		PlaceholderSessionDate:      start.Format("02/01/2006"),
		PlaceholderMeetingLink:      link,
		PlaceholderMinutesRemaining: strconv.Itoa(minutes),
	}
	if course != nil {
		values[PlaceholderCourseName] = course.Name
	}
	return values
}

// sessionLink returns the meeting URL already stored on the session, if any.
func sessionLink(session *models.Session) string {
	if session.MeetingURL == nil {
		return ""
	}
	return *session.MeetingURL
}

func meetingTopic(course *models.Course, start time.Time) string {
	name := "Course session"
	if course != nil && course.Name != "" {
		name = course.Name
	}
	return fmt.Sprintf("%s - %s", name, start.Format("02/01/2006 15:04"))
}
