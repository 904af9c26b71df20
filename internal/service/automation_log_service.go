package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
	"github.com/noah-isme/course-automation/pkg/export"
)

type automationLogRepository interface {
	Append(ctx context.Context, entry *models.AutomationLogEntry) error
	List(ctx context.Context, filter models.AutomationLogFilter) ([]models.AutomationLogEntry, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the log export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportedFile is a rendered log export.
type ExportedFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AutomationLogService is the append-only audit trail of automation attempts.
type AutomationLogService struct {
	repo    automationLogRepository
	metrics automationMetrics
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewAutomationLogService constructs the service. metrics may be nil.
func NewAutomationLogService(repo automationLogRepository, metrics automationMetrics, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *AutomationLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &AutomationLogService{repo: repo, metrics: metrics, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Append records one entry.
func (s *AutomationLogService) Append(ctx context.Context, entry *models.AutomationLogEntry) error {
	if entry == nil {
		return appErrors.Clone(appErrors.ErrValidation, "log entry is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append automation log")
	}
	s.metrics.ObserveAction(entry.Type, string(entry.Status))
	return nil
}

// ListAll returns every entry, newest first.
func (s *AutomationLogService) ListAll(ctx context.Context) ([]models.AutomationLogEntry, error) {
	return s.List(ctx, models.AutomationLogFilter{})
}

// ListByRelatedID returns entries for one session, newest first.
func (s *AutomationLogService) ListByRelatedID(ctx context.Context, relatedID string) ([]models.AutomationLogEntry, error) {
	return s.List(ctx, models.AutomationLogFilter{RelatedID: relatedID})
}

// ListByType returns entries of one type, newest first.
func (s *AutomationLogService) ListByType(ctx context.Context, logType string) ([]models.AutomationLogEntry, error) {
	return s.List(ctx, models.AutomationLogFilter{Type: logType})
}

// List returns entries matching filter, newest first.
func (s *AutomationLogService) List(ctx context.Context, filter models.AutomationLogFilter) ([]models.AutomationLogEntry, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list automation logs")
	}
	if entries == nil {
		entries = []models.AutomationLogEntry{}
	}
	return entries, nil
}

// Export renders the filtered log as CSV or PDF.
func (s *AutomationLogService) Export(ctx context.Context, filter models.AutomationLogFilter, format ExportFormat) (*ExportedFile, error) {
	format = ExportFormat(strings.ToLower(string(format)))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	entries, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"created_at", "type", "status", "related_schedule_id", "message"},
		Widths:  map[string]float64{"created_at": 1.6, "related_schedule_id": 2.2, "message": 4.5},
	}
	for _, entry := range entries {
		related := ""
		if entry.RelatedScheduleID != nil {
			related = *entry.RelatedScheduleID
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"created_at":          entry.CreatedAt.UTC().Format(time.RFC3339),
			"type":                entry.Type,
			"status":              string(entry.Status),
			"related_schedule_id": related,
			"message":             entry.Message,
		})
	}

	stamp := s.now().UTC().Format("20060102-150405")
	file := &ExportedFile{Filename: fmt.Sprintf("automation-logs-%s.%s", stamp, format)}
	switch format {
	case ExportFormatPDF:
		file.ContentType = "application/pdf"
		file.Content, err = s.pdf.Render(dataset, "Automation log")
	default:
		file.ContentType = "text/csv; charset=utf-8"
		file.Content, err = s.csv.Render(dataset)
	}
	if err != nil {
		s.logger.Sugar().Errorw("automation log export failed", "format", format, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return file, nil
}
