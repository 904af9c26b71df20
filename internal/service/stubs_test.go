package service

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/noah-isme/course-automation/internal/models"
	"github.com/noah-isme/course-automation/pkg/zoom"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strRef(v string) *string { return &v }

func sessionAt(id, courseID, date, clock string) models.Session {
	day, _ := time.Parse("2006-01-02", date)
	return models.Session{
		ID:              id,
		CourseID:        courseID,
		ScheduledDate:   day,
		ScheduledTime:   clock,
		DurationMinutes: 60,
		Status:          models.SessionStatusScheduled,
	}
}

type sentMessage struct {
	destination string
	text        string
}

type messagingStub struct {
	mu       sync.Mutex
	sent     []sentMessage
	err      error
	panicMsg string
}

func (s *messagingStub) SendMessage(_ context.Context, destination, text string) error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{destination: destination, text: text})
	return nil
}

type activityStub struct {
	entries []models.ActivityLogEntry
}

func (s *activityStub) Append(_ context.Context, entry *models.ActivityLogEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

type dispatcherStub struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []sentMessage
}

func (s *dispatcherStub) Dispatch(_ context.Context, destination, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[destination] {
		return false
	}
	s.sent = append(s.sent, sentMessage{destination: destination, text: text})
	return true
}

type logRepoStub struct {
	mu      sync.Mutex
	entries []models.AutomationLogEntry
	seq     int
}

func (s *logRepoStub) Append(_ context.Context, entry *models.AutomationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if entry.ID == "" {
		entry.ID = "log-" + strconv.Itoa(s.seq)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC)
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *logRepoStub) List(_ context.Context, filter models.AutomationLogFilter) ([]models.AutomationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.AutomationLogEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.RelatedID != "" && (entry.RelatedScheduleID == nil || *entry.RelatedScheduleID != filter.RelatedID) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *logRepoStub) byType(logType string) []models.AutomationLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomationLogEntry
	for _, entry := range s.entries {
		if entry.Type == logType {
			out = append(out, entry)
		}
	}
	return out
}

type ruleStoreStub struct {
	mu      sync.Mutex
	rules   []models.AutomationRule
	listErr error
	updates map[string][]models.RuleScheduleUpdate
}

func (s *ruleStoreStub) ListActive(_ context.Context, triggerType models.TriggerType) ([]models.AutomationRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.AutomationRule
	for _, rule := range s.rules {
		if rule.IsActive && (triggerType == "" || rule.TriggerType == triggerType) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *ruleStoreStub) GetByID(_ context.Context, id string) (*models.AutomationRule, error) {
	for _, rule := range s.rules {
		if rule.ID == id {
			found := rule
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *ruleStoreStub) UpdateSchedule(_ context.Context, id string, update models.RuleScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = map[string][]models.RuleScheduleUpdate{}
	}
	s.updates[id] = append(s.updates[id], update)
	return nil
}

type sessionStoreStub struct {
	mu       sync.Mutex
	sessions []models.Session
	listErr  error
	meetings map[string]models.SessionMeetingUpdate
	created  []models.Session
}

func (s *sessionStoreStub) ListInRange(_ context.Context, start, end time.Time) ([]models.Session, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	from, to := start.Format("2006-01-02"), end.Format("2006-01-02")
	var out []models.Session
	for _, session := range s.sessions {
		day := session.ScheduledDate.Format("2006-01-02")
		if day >= from && day <= to && session.Status == models.SessionStatusScheduled {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *sessionStoreStub) UpdateMeeting(_ context.Context, id string, update models.SessionMeetingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meetings == nil {
		s.meetings = map[string]models.SessionMeetingUpdate{}
	}
	s.meetings[id] = update
	return nil
}

func (s *sessionStoreStub) Create(_ context.Context, session *models.Session) (bool, error) {
	for _, existing := range append(append([]models.Session{}, s.sessions...), s.created...) {
		if existing.CourseID == session.CourseID && existing.ScheduledDate.Equal(session.ScheduledDate) && existing.ScheduledTime == session.ScheduledTime {
			return false, nil
		}
	}
	s.created = append(s.created, *session)
	return true, nil
}

type courseStub struct {
	courses map[string]models.Course
}

func (s *courseStub) GetByID(_ context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

type userStub struct {
	users map[string]models.User
}

func (s *userStub) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

type templateStub struct {
	templates []models.TemplateMessage
}

func (s *templateStub) GetByID(_ context.Context, id string) (*models.TemplateMessage, error) {
	for _, tpl := range s.templates {
		if tpl.ID == id {
			found := tpl
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *templateStub) ListByType(_ context.Context, templateType models.TemplateType) ([]models.TemplateMessage, error) {
	var out []models.TemplateMessage
	for _, tpl := range s.templates {
		if tpl.Type == templateType {
			out = append(out, tpl)
		}
	}
	return out, nil
}

type meetingStoreStub struct {
	mu      sync.Mutex
	records map[string]models.MeetingRecord
	// winner is stored by a "concurrent" writer right before Create runs.
	winner    *models.MeetingRecord
	createErr error
}

func (s *meetingStoreStub) GetByScheduleID(_ context.Context, scheduleID string) (*models.MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[scheduleID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (s *meetingStoreStub) Create(_ context.Context, record *models.MeetingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return false, s.createErr
	}
	if s.records == nil {
		s.records = map[string]models.MeetingRecord{}
	}
	if s.winner != nil {
		s.records[s.winner.RelatedScheduleID] = *s.winner
		s.winner = nil
	}
	if _, exists := s.records[record.RelatedScheduleID]; exists {
		return false, nil
	}
	record.ID = "meeting-" + record.RelatedScheduleID
	s.records[record.RelatedScheduleID] = *record
	return true, nil
}

type settingStub struct {
	values map[string]string
	err    error
}

func (s *settingStub) Get(_ context.Context, key string) (*models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.Setting{Key: key, Value: value}, nil
}

type zoomCall struct {
	topic    string
	start    string
	duration int
	host     string
}

type zoomStub struct {
	calls   []zoomCall
	meeting *zoom.Meeting
	err     error
}

func (s *zoomStub) CreateMeeting(_ context.Context, topic, isoStart string, durationMinutes int, host string) (*zoom.Meeting, error) {
	s.calls = append(s.calls, zoomCall{topic: topic, start: isoStart, duration: durationMinutes, host: host})
	if s.err != nil {
		return nil, s.err
	}
	return s.meeting, nil
}

type meetingEnsurerStub struct {
	calls  []string
	err    error
	prefix string
}

func (s *meetingEnsurerStub) EnsureMeeting(_ context.Context, session *models.Session, _ string) (*models.MeetingRecord, error) {
	s.calls = append(s.calls, session.ID)
	if s.err != nil {
		return nil, s.err
	}
	prefix := s.prefix
	if prefix == "" {
		prefix = "https://zoom.us/j/"
	}
	return &models.MeetingRecord{RelatedScheduleID: session.ID, ExternalMeetingID: "m-" + session.ID, JoinURL: prefix + session.ID}, nil
}

type messageLogStub struct {
	entries []models.MessageLogEntry
}

func (s *messageLogStub) Append(_ context.Context, entry *models.MessageLogEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

type firingStub struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	err     error
}

func (s *firingStub) Claim(_ context.Context, ruleID, sessionID string, firedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.claimed == nil {
		s.claimed = map[string]time.Time{}
	}
	key := ruleID + "/" + sessionID
	if _, ok := s.claimed[key]; ok {
		return false, nil
	}
	s.claimed[key] = firedAt
	return true, nil
}

type executorCall struct {
	rule models.AutomationRule
	actx ActionContext
}

type executorStub struct {
	mu    sync.Mutex
	calls []executorCall
	err   error
}

func (s *executorStub) Execute(_ context.Context, rule models.AutomationRule, actx ActionContext) (*ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, executorCall{rule: rule, actx: actx})
	if s.err != nil {
		return nil, s.err
	}
	return &ExecutionResult{RuleID: rule.ID, Action: rule.ActionType, Message: "done"}, nil
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

type mailerStub struct {
	sent []sentEmail
	err  error
}

func (s *mailerStub) SendEmail(_ context.Context, to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

type digestStub struct {
	mu   sync.Mutex
	runs []*models.AutomationRule
	err  error
}

func (s *digestStub) Run(_ context.Context, rule *models.AutomationRule) (*DigestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rule)
	if s.err != nil {
		return nil, s.err
	}
	return &DigestResult{Date: "2024-03-04", Sessions: 2, Sent: 2}, nil
}

type watcherStub struct {
	ticks    int
	interval time.Duration
	err      error
}

func (s *watcherStub) Tick(context.Context) (*WatchResult, error) {
	s.ticks++
	if s.err != nil {
		return nil, s.err
	}
	return &WatchResult{}, nil
}

func (s *watcherStub) Interval() time.Duration {
	if s.interval == 0 {
		return 5 * time.Minute
	}
	return s.interval
}

type importerStub struct {
	result *ImportResult
	err    error
}

func (s *importerStub) Import(context.Context) (*ImportResult, error) {
	return s.result, s.err
}

type metricsStub struct {
	mu      sync.Mutex
	actions map[string]int
	jobs    []string
	rules   int
}

func (s *metricsStub) ObserveAction(logType, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions == nil {
		s.actions = map[string]int{}
	}
	s.actions[logType+"/"+status]++
}

func (s *metricsStub) ObserveJob(job string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *metricsStub) SetRegisteredRules(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = count
}
