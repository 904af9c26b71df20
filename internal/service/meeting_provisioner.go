package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
	"github.com/noah-isme/course-automation/pkg/zoom"
)

const defaultMeetingDuration = 60

type conferencingClient interface {
	CreateMeeting(ctx context.Context, topic, isoStart string, durationMinutes int, host string) (*zoom.Meeting, error)
}

type meetingStore interface {
	GetByScheduleID(ctx context.Context, scheduleID string) (*models.MeetingRecord, error)
	Create(ctx context.Context, record *models.MeetingRecord) (bool, error)
}

type settingReader interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
}

type sessionMeetingWriter interface {
	UpdateMeeting(ctx context.Context, id string, update models.SessionMeetingUpdate) error
}

type automationLogAppender interface {
	Append(ctx context.Context, entry *models.AutomationLogEntry) error
}

// MeetingProvisionerConfig tunes meeting provisioning.
type MeetingProvisionerConfig struct {
	DefaultLocation *time.Location
	HostEmail       string
	Now             func() time.Time
	RandomID        func() int64
}

// MeetingProvisioner ensures each session has exactly one meeting.
type MeetingProvisioner struct {
	client   conferencingClient
	meetings meetingStore
	settings settingReader
	sessions sessionMeetingWriter
	logs     automationLogAppender
	logger   *zap.Logger
	cfg      MeetingProvisionerConfig
}

// NewMeetingProvisioner constructs the provisioner. client may be nil, in which case
// only simulation mode can produce meetings.
func NewMeetingProvisioner(client conferencingClient, meetings meetingStore, settings settingReader, sessions sessionMeetingWriter, logs automationLogAppender, logger *zap.Logger, cfg MeetingProvisionerConfig) *MeetingProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RandomID == nil {
		var mu sync.Mutex
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		cfg.RandomID = func() int64 {
			mu.Lock()
			defer mu.Unlock()
			return 10000000000 + src.Int63n(90000000000)
		}
	}
	return &MeetingProvisioner{
		client:   client,
		meetings: meetings,
		settings: settings,
		sessions: sessions,
		logs:     logs,
		logger:   logger,
		cfg:      cfg,
	}
}

// EnsureMeeting returns the session's meeting, creating it when none exists.
// On failure no meeting is returned and the error wraps ErrMeetingFailed.
func (p *MeetingProvisioner) EnsureMeeting(ctx context.Context, session *models.Session, topic string) (*models.MeetingRecord, error) {
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is required")
	}
	if session.HasMeeting() {
		return p.meetingFromSession(session), nil
	}
	existing, err := p.meetings.GetByScheduleID(ctx, session.ID)
	switch {
	case err == nil:
		p.syncSession(ctx, session, existing)
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up meeting")
	}

	start, err := session.StartsAt(p.cfg.DefaultLocation)
	if err != nil {
		p.appendLog(ctx, session.ID, models.AutomationStatusError, "cannot schedule meeting: "+err.Error(), nil)
		return nil, appErrors.Wrap(err, appErrors.ErrMeetingFailed.Code, appErrors.ErrMeetingFailed.Status, "invalid session start")
	}
	duration := session.DurationMinutes
	if duration <= 0 {
		duration = defaultMeetingDuration
	}

	simulate, err := p.simulationMode(ctx)
	if err != nil {
		p.appendLog(ctx, session.ID, models.AutomationStatusError, "cannot read simulation mode: "+err.Error(), nil)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read simulation mode")
	}

	var record *models.MeetingRecord
	if simulate {
		id := strconv.FormatInt(p.cfg.RandomID(), 10)
		record = &models.MeetingRecord{
			RelatedScheduleID: session.ID,
			ExternalMeetingID: id,
			JoinURL:           SimulatedJoinURL(id),
			StartTime:         start.UTC(),
			Status:            models.MeetingStatusSimulated,
		}
	} else {
		if p.client == nil {
			err := errors.New("conferencing client is not configured")
			p.appendLog(ctx, session.ID, models.AutomationStatusError, "meeting creation failed: "+err.Error(), nil)
			return nil, appErrors.Wrap(err, appErrors.ErrMeetingFailed.Code, appErrors.ErrMeetingFailed.Status, appErrors.ErrMeetingFailed.Message)
		}
		meeting, err := p.client.CreateMeeting(ctx, topic, start.UTC().Format(time.RFC3339), duration, p.cfg.HostEmail)
		if err != nil {
			details := map[string]interface{}{"error": err.Error(), "topic": topic}
			var apiErr *zoom.APIError
			if errors.As(err, &apiErr) {
				details["status"] = apiErr.Status
				details["code"] = apiErr.Code
				details["body"] = apiErr.Body
			}
			p.appendLog(ctx, session.ID, models.AutomationStatusError, "meeting creation failed: "+err.Error(), details)
			return nil, appErrors.Wrap(err, appErrors.ErrMeetingFailed.Code, appErrors.ErrMeetingFailed.Status, appErrors.ErrMeetingFailed.Message)
		}
		record = &models.MeetingRecord{
			RelatedScheduleID: session.ID,
			ExternalMeetingID: meeting.ID,
			JoinURL:           meeting.JoinURL,
			StartTime:         start.UTC(),
			Status:            models.MeetingStatusScheduled,
		}
	}

	created, err := p.meetings.Create(ctx, record)
	if err != nil {
		p.appendLog(ctx, session.ID, models.AutomationStatusError, "failed to store meeting: "+err.Error(), map[string]interface{}{
			"meetingId": record.ExternalMeetingID,
			"joinUrl":   record.JoinURL,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store meeting")
	}
	if !created {
		// a concurrent run stored its meeting first
		winner, err := p.meetings.GetByScheduleID(ctx, session.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload meeting")
		}
		p.syncSession(ctx, session, winner)
		return winner, nil
	}

	status := models.AutomationStatusSuccess
	message := fmt.Sprintf("meeting %s created for %q", record.ExternalMeetingID, topic)
	if simulate {
		status = models.AutomationStatusSimulated
		message = fmt.Sprintf("simulated meeting %s for %q", record.ExternalMeetingID, topic)
	}
	p.appendLog(ctx, session.ID, status, message, map[string]interface{}{
		"meetingId": record.ExternalMeetingID,
		"joinUrl":   record.JoinURL,
		"startTime": record.StartTime.Format(time.RFC3339),
		"duration":  duration,
	})
	p.syncSession(ctx, session, record)
	return record, nil
}

// meetingFromSession describes a meeting entered on the session itself (manually or by import).
func (p *MeetingProvisioner) meetingFromSession(session *models.Session) *models.MeetingRecord {
	record := &models.MeetingRecord{
		RelatedScheduleID: session.ID,
		ExternalMeetingID: *session.MeetingID,
		JoinURL:           sessionLink(session),
		Status:            models.MeetingStatusScheduled,
	}
	if start, err := session.StartsAt(p.cfg.DefaultLocation); err == nil {
		record.StartTime = start.UTC()
	}
	return record
}

// SimulatedJoinURL is the deterministic join link used in simulation mode.
func SimulatedJoinURL(meetingID string) string {
	return "https://zoom.us/j/" + meetingID + "?sim=1"
}

func (p *MeetingProvisioner) simulationMode(ctx context.Context) (bool, error) {
	if p.settings == nil {
		return false, nil
	}
	setting, err := p.settings.Get(ctx, models.SettingSimulationMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return setting.Bool(), nil
}

func (p *MeetingProvisioner) syncSession(ctx context.Context, session *models.Session, record *models.MeetingRecord) {
	if record == nil || (session.MeetingURL != nil && *session.MeetingURL == record.JoinURL) {
		return
	}
	id, url := record.ExternalMeetingID, record.JoinURL
	session.MeetingID = &id
	session.MeetingURL = &url
	if p.sessions == nil {
		return
	}
	if err := p.sessions.UpdateMeeting(ctx, session.ID, models.SessionMeetingUpdate{MeetingID: id, MeetingURL: url}); err != nil {
		p.logger.Sugar().Warnw("failed to write meeting onto session", "session_id", session.ID, "error", err)
	}
}

func (p *MeetingProvisioner) appendLog(ctx context.Context, sessionID string, status models.AutomationLogStatus, message string, details map[string]interface{}) {
	if p.logs == nil {
		return
	}
	entry := &models.AutomationLogEntry{
		Type:              models.LogTypeMeeting,
		Status:            status,
		Message:           message,
		RelatedScheduleID: &sessionID,
		CreatedAt:         p.cfg.Now().UTC(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	if err := p.logs.Append(ctx, entry); err != nil {
		p.logger.Sugar().Errorw("failed to write meeting log", "session_id", sessionID, "error", err)
	}
}
