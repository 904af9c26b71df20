package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/dto"
	"github.com/noah-isme/course-automation/internal/models"
	"github.com/noah-isme/course-automation/internal/service"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
	"github.com/noah-isme/course-automation/pkg/response"
)

const defaultActivityLimit = 50

type automationEngine interface {
	Initialize(ctx context.Context) (*service.InitializeResult, error)
	RunImportManually(ctx context.Context) (*service.ImportResult, error)
	RunRemindersManually(ctx context.Context) (*service.WatchResult, error)
	TestAutomation(ctx context.Context, ruleID string) (*service.ExecutionResult, error)
	SendDailyMessagesNow(ctx context.Context, ruleID string) (*service.DigestResult, error)
	HandleEvent(ctx context.Context, triggerType models.TriggerType, entityID string) (*service.EventResult, error)
}

type automationLogService interface {
	List(ctx context.Context, filter models.AutomationLogFilter) ([]models.AutomationLogEntry, error)
	Export(ctx context.Context, filter models.AutomationLogFilter, format service.ExportFormat) (*service.ExportedFile, error)
}

type activityReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.ActivityLogEntry, error)
}

type messageLogReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.MessageLogEntry, error)
}

type settingStore interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

// AutomationHandler exposes the management operations of the automation engine.
type AutomationHandler struct {
	engine   automationEngine
	logs     automationLogService
	activity activityReader
	messages messageLogReader
	settings settingStore
	logger   *zap.Logger
}

// NewAutomationHandler builds the handler.
func NewAutomationHandler(engine automationEngine, logs automationLogService, activity activityReader, messages messageLogReader, settings settingStore, logger *zap.Logger) *AutomationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationHandler{engine: engine, logs: logs, activity: activity, messages: messages, settings: settings, logger: logger}
}

// Initialize godoc
// @Summary (Re)load automation rules and start the scheduler
// @Tags Automation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /automation/initialize [post]
func (h *AutomationHandler) Initialize(c *gin.Context) {
	h.audit(c, "initialize")
	result, err := h.engine.Initialize(c.Request.Context())
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, fmt.Sprintf("%d rule(s) scheduled, %d invalid", len(result.Registered), len(result.Invalid)), result)
}

// RunImport godoc
// @Summary Run the schedule import now
// @Tags Automation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /automation/import/run [post]
func (h *AutomationHandler) RunImport(c *gin.Context) {
	h.audit(c, "import")
	result, err := h.engine.RunImportManually(c.Request.Context())
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, fmt.Sprintf("%d session(s) imported", result.Created), result)
}

// RunReminders godoc
// @Summary Evaluate session reminders now
// @Tags Automation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /automation/reminders/run [post]
func (h *AutomationHandler) RunReminders(c *gin.Context) {
	h.audit(c, "reminders")
	result, err := h.engine.RunRemindersManually(c.Request.Context())
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, fmt.Sprintf("%d reminder(s) fired", result.Fired), result)
}

// TestRule godoc
// @Summary Run a rule's action once
// @Tags Automation
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} response.Envelope
// @Router /automation/rules/{id}/test [post]
func (h *AutomationHandler) TestRule(c *gin.Context) {
	h.audit(c, "test-rule")
	result, err := h.engine.TestAutomation(c.Request.Context(), c.Param("id"))
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, result.Message, result)
}

// SendDailyMessages godoc
// @Summary Send today's course reminders now
// @Tags Automation
// @Accept json
// @Produce json
// @Param payload body dto.SendDailyMessagesRequest false "Optional rule"
// @Success 200 {object} response.Envelope
// @Router /automation/daily-messages/send [post]
func (h *AutomationHandler) SendDailyMessages(c *gin.Context) {
	var req dto.SendDailyMessagesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			operationFailed(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid daily messages payload"))
			return
		}
	}
	h.audit(c, "daily-messages")
	result, err := h.engine.SendDailyMessagesNow(c.Request.Context(), req.RuleID)
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, fmt.Sprintf("%d message(s) sent, %d failed", result.Sent, result.Failed), result)
}

// HandleEvent godoc
// @Summary Report a course or user event
// @Tags Automation
// @Accept json
// @Produce json
// @Param payload body dto.AutomationEventRequest true "Event"
// @Success 200 {object} response.Envelope
// @Router /automation/events [post]
func (h *AutomationHandler) HandleEvent(c *gin.Context) {
	var req dto.AutomationEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		operationFailed(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}
	result, err := h.engine.HandleEvent(c.Request.Context(), models.TriggerType(req.TriggerType), req.EntityID)
	if err != nil {
		operationFailed(c, err)
		return
	}
	operationOK(c, fmt.Sprintf("%d rule(s) matched", result.Matched), result)
}

// ListLogs godoc
// @Summary List automation log entries, newest first
// @Tags Automation
// @Produce json
// @Param type query string false "Log type"
// @Param related_id query string false "Session ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /automation/logs [get]
func (h *AutomationHandler) ListLogs(c *gin.Context) {
	filter, ok := bindLogQuery(c)
	if !ok {
		return
	}
	entries, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// ExportLogs godoc
// @Summary Export automation log entries
// @Tags Automation
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /automation/logs/export [get]
func (h *AutomationHandler) ExportLogs(c *gin.Context) {
	filter, ok := bindLogQuery(c)
	if !ok {
		return
	}
	file, err := h.logs.Export(c.Request.Context(), filter, service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}

// ListActivity godoc
// @Summary Recent messaging activity
// @Tags Automation
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /automation/activity [get]
func (h *AutomationHandler) ListActivity(c *gin.Context) {
	var query dto.ActivityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid activity query"))
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultActivityLimit
	}
	entries, err := h.activity.ListRecent(c.Request.Context(), query.Limit)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activity"))
		return
	}
	response.JSON(c, http.StatusOK, entries)
}

// ListSessionMessages godoc
// @Summary Digest messages sent for a session
// @Tags Automation
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /automation/sessions/{id}/messages [get]
func (h *AutomationHandler) ListSessionMessages(c *gin.Context) {
	entries, err := h.messages.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list session messages"))
		return
	}
	response.JSON(c, http.StatusOK, entries)
}

// GetSetting godoc
// @Summary Read a runtime setting
// @Tags Automation
// @Produce json
// @Param key path string true "Setting key"
// @Success 200 {object} response.Envelope
// @Router /automation/settings/{key} [get]
func (h *AutomationHandler) GetSetting(c *gin.Context) {
	setting, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, translateLookupError(err, "setting "+c.Param("key")+" not found"))
		return
	}
	response.JSON(c, http.StatusOK, setting)
}

// UpdateSetting godoc
// @Summary Write a runtime setting such as simulation_mode
// @Tags Automation
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body dto.UpdateSettingRequest true "Setting value"
// @Success 200 {object} response.Envelope
// @Router /automation/settings/{key} [put]
func (h *AutomationHandler) UpdateSetting(c *gin.Context) {
	var req dto.UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid setting payload"))
		return
	}
	h.audit(c, "update-setting", "key", c.Param("key"), "value", req.Value)
	setting := &models.Setting{Key: c.Param("key"), Value: req.Value}
	if err := h.settings.Upsert(c.Request.Context(), setting); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store setting"))
		return
	}
	response.JSON(c, http.StatusOK, setting)
}

func (h *AutomationHandler) audit(c *gin.Context, operation string, keysAndValues ...interface{}) {
	fields := append([]interface{}{"operation", operation}, keysAndValues...)
	if claims := claimsFromContext(c); claims != nil {
		fields = append(fields, "user_id", claims.UserID, "role", claims.Role)
	}
	h.logger.Sugar().Infow("automation operation requested", fields...)
}

func bindLogQuery(c *gin.Context) (models.AutomationLogFilter, bool) {
	var query dto.AutomationLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid log query"))
		return models.AutomationLogFilter{}, false
	}
	return models.AutomationLogFilter{Type: query.Type, RelatedID: query.RelatedID, Limit: query.Limit}, true
}

func operationOK(c *gin.Context, message string, data interface{}) {
	response.JSON(c, http.StatusOK, dto.OperationResult{Success: true, Message: message, Data: data})
}

func operationFailed(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	response.JSONWithError(c, appErr, dto.OperationResult{Success: false, Message: appErr.Error()})
}
