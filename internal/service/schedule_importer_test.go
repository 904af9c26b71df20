package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

const scheduleCSV = "\ufeffCourse_ID,Date,Time,Duration,Professor_ID,Timezone\n" +
	"c1,2024-03-04,14:00,90,p1,Europe/Paris\n" +
	"c1,2024-03-04,14:00,90,p1,Europe/Paris\n" +
	"c2,2024-03-05,9:30,,,\n" +
	"c3,04/03/2024,10:00,,,\n" +
	",2024-03-05,10:00,,,\n"

func TestScheduleImporterReader(t *testing.T) {
	sessions := &sessionStoreStub{}
	importer := NewCSVScheduleImporter("", sessions, time.UTC, nil)

	result, err := importer.ImportReader(context.Background(), strings.NewReader(scheduleCSV))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Rows)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "line 5")
	assert.Contains(t, result.Errors[1], "course_id is empty")

	require.Len(t, sessions.created, 2)
	first := sessions.created[0]
	assert.Equal(t, "Europe/Paris", first.TimeZone)
	assert.Equal(t, 90, first.DurationMinutes)
	require.NotNil(t, first.ProfessorID)
	assert.Equal(t, "p1", *first.ProfessorID)

	second := sessions.created[1]
	assert.Equal(t, "09:30", second.ScheduledTime)
	assert.Equal(t, "UTC", second.TimeZone)
	assert.Equal(t, defaultMeetingDuration, second.DurationMinutes)
	assert.Nil(t, second.ProfessorID)
}

func TestScheduleImporterMissingColumn(t *testing.T) {
	importer := NewCSVScheduleImporter("", &sessionStoreStub{}, nil, nil)
	_, err := importer.ImportReader(context.Background(), strings.NewReader("course_id,date\nc1,2024-03-04\n"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestScheduleImporterFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.csv")
	require.NoError(t, os.WriteFile(path, []byte("course_id,date,time\nc1,2024-03-04,08:00\n"), 0o600))

	result, err := NewCSVScheduleImporter(path, &sessionStoreStub{}, nil, nil).Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, result.Source)
	assert.Equal(t, 1, result.Created)
}

func TestScheduleImporterWithoutFile(t *testing.T) {
	_, err := NewCSVScheduleImporter("", &sessionStoreStub{}, nil, nil).Import(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
