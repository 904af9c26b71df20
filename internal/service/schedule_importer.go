package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

type sessionCreator interface {
	Create(ctx context.Context, session *models.Session) (bool, error)
}

// ImportResult summarises one import run.
type ImportResult struct {
	Source  string   `json:"source"`
	Rows    int      `json:"rows"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// CSVScheduleImporter turns a schedule CSV export into sessions.
type CSVScheduleImporter struct {
	path     string
	sessions sessionCreator
	location *time.Location
	logger   *zap.Logger
}

// NewCSVScheduleImporter constructs the importer for the file at path.
func NewCSVScheduleImporter(path string, sessions sessionCreator, location *time.Location, logger *zap.Logger) *CSVScheduleImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &CSVScheduleImporter{
		path:     path,
		sessions: sessions,
		location: location,
		logger:   logger,
	}
}

// Import reads the configured file.
func (i *CSVScheduleImporter) Import(ctx context.Context) (*ImportResult, error) {
	if i.path == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no schedule import file is configured")
	}
	f, err := os.Open(i.path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open schedule file")
	}
	defer f.Close()
	result, err := i.ImportReader(ctx, f)
	if result != nil {
		result.Source = i.path
	}
	return result, err
}

// ImportReader creates one session per CSV row. Bad rows are reported and skipped.
func (i *CSVScheduleImporter) ImportReader(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "schedule file has no header")
	}
	index := make(map[string]int, len(header))
	for pos, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = pos
	}
	for _, required := range []string{"course_id", "date", "time"} {
		if _, ok := index[required]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("schedule file is missing column %q", required))
		}
	}

	result := &ImportResult{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Rows++
		session, err := i.parseRow(record, index)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		created, err := i.sessions.Create(ctx, session)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	i.logger.Sugar().Infow("schedule import finished", "rows", result.Rows, "created", result.Created, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

func (i *CSVScheduleImporter) parseRow(record []string, index map[string]int) (*models.Session, error) {
	field := func(name string) string {
		pos, ok := index[name]
		if !ok || pos >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[pos])
	}

	courseID := field("course_id")
	if courseID == "" {
		return nil, errors.New("course_id is empty")
	}
	tz := field("timezone")
	loc := i.location
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
	} else {
		tz = loc.String()
	}
	date, err := time.ParseInLocation("2006-01-02", field("date"), loc)
	if err != nil {
		return nil, fmt.Errorf("date %q: %w", field("date"), err)
	}
	hour, minute, err := parseClock(field("time"))
	if err != nil {
		return nil, err
	}
	duration := defaultMeetingDuration
	if raw := field("duration"); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil || duration <= 0 {
			return nil, fmt.Errorf("duration %q is not a positive number of minutes", raw)
		}
	}

	session := &models.Session{
		CourseID:        courseID,
		ScheduledDate:   date,
		ScheduledTime:   fmt.Sprintf("%02d:%02d", hour, minute),
		TimeZone:        tz,
		DurationMinutes: duration,
		Status:          models.SessionStatusScheduled,
	}
	if professor := field("professor_id"); professor != "" {
		session.ProfessorID = &professor
	}
	return session, nil
}
