package http

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ad-pipeline/internal/application/service"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Version is reported by the health check; overridden at link time
var Version = "dev"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ListRequest represents paging query parameters
type ListRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// AddVersionRequest is the body of POST /api/deliverables/:id/versions
type AddVersionRequest struct {
	TaskID   int64  `json:"task_id"`
	FileName string `json:"file_name" binding:"required"`
	FileType string `json:"file_type"`
	Locator  string `json:"locator" binding:"required"`
}

// ResolveRequest is the body of POST /api/approvals/:id/resolve
type ResolveRequest struct {
	Decision   entity.Decision `json:"decision" binding:"required"`
	Comment    string          `json:"comment"`
	ReviewerID string          `json:"reviewer_id"`
}

// SubmitResponse is returned by submit and resolve
type SubmitResponse struct {
	Task     *entity.TaskInstance   `json:"task"`
	Approval *entity.ApprovalRecord `json:"approval"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
		},
	})
}

// DefineWorkflow handles POST /api/workflows
func (h *Handlers) DefineWorkflow(c *gin.Context) {
	var req service.DefineWorkflowInput
	if !h.bindJSON(c, &req) {
		return
	}

	def, err := h.services.Workflows.DefineWorkflow(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to define workflow", err, "name", req.Name)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: def})
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	defs, err := h.services.Workflows.ListWorkflows(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list workflows", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	def, err := h.services.Workflows.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get workflow", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// CreateDeliverable handles POST /api/deliverables
func (h *Handlers) CreateDeliverable(c *gin.Context) {
	var req service.CreateDeliverableInput
	if !h.bindJSON(c, &req) {
		return
	}

	view, err := h.services.Deliverables.CreateDeliverable(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to create deliverable", err, "workflow_id", req.WorkflowID)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: view})
}

// ListDeliverables handles GET /api/deliverables
func (h *Handlers) ListDeliverables(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
			Code:    string(apperror.KindValidation),
		})
		return
	}

	items, err := h.services.Deliverables.ListDeliverables(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "Failed to list deliverables", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// GetDeliverable handles GET /api/deliverables/:id
func (h *Handlers) GetDeliverable(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	view, err := h.services.Deliverables.GetDeliverable(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get deliverable", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// GetUnlockedTasks handles GET /api/deliverables/:id/tasks/unlocked
func (h *Handlers) GetUnlockedTasks(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	tasks, err := h.services.Pipeline.GetUnlockedTasks(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get unlocked tasks", err, "deliverable_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// AddVersion handles POST /api/deliverables/:id/versions
func (h *Handlers) AddVersion(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req AddVersionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	version, err := h.services.Versions.AddVersion(c.Request.Context(), service.AddVersionInput{
		DeliverableID: id,
		TaskID:        req.TaskID,
		FileName:      req.FileName,
		FileType:      req.FileType,
		Locator:       req.Locator,
	})
	if err != nil {
		h.fail(c, "Failed to add version", err, "deliverable_id", id)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: version})
}

// ListVersions handles GET /api/deliverables/:id/versions
func (h *Handlers) ListVersions(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	versions, err := h.services.Versions.ListVersions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list versions", err, "deliverable_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: versions})
}

// GetHistory handles GET /api/deliverables/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	history, err := h.services.Deliverables.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to load history", err, "deliverable_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// ExportHistory handles GET /api/deliverables/:id/history.xlsx
func (h *Handlers) ExportHistory(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	history, err := h.services.Deliverables.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to load history", err, "deliverable_id", id)
		return
	}

	// Render fully before writing headers so a failure can still become JSON.
	var buf bytes.Buffer
	err = h.services.Exporter.Write(&buf, report.History{
		Deliverable: history.Deliverable,
		Tasks:       history.Tasks,
		Versions:    history.Versions,
		Approvals:   history.Approvals,
	})
	if err != nil {
		h.fail(c, "Failed to export history", err, "deliverable_id", id)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+h.services.Exporter.FileName(history.Deliverable)+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Publish handles POST /api/deliverables/:id/publish
func (h *Handlers) Publish(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	d, err := h.services.Pipeline.Publish(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to publish deliverable", err, "deliverable_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: d})
}

// MarkFinal handles POST /api/versions/:id/final
func (h *Handlers) MarkFinal(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	version, err := h.services.Versions.MarkFinal(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to mark version final", err, "version_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: version})
}

// SubmitForApproval handles POST /api/tasks/:id/submit
func (h *Handlers) SubmitForApproval(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	task, approval, err := h.services.Pipeline.SubmitForApproval(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to submit task", err, "task_id", id)
		return
	}

	h.logger.Info("Task submitted", "task_id", id, "approval_id", approval.ID)
	c.JSON(http.StatusOK, Response{Success: true, Data: SubmitResponse{Task: task, Approval: approval}})
}

// ListApprovals handles GET /api/tasks/:id/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	records, err := h.services.Approvals.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list approvals", err, "task_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ResolveApproval handles POST /api/approvals/:id/resolve
func (h *Handlers) ResolveApproval(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if !h.bindJSON(c, &req) {
		return
	}

	task, approval, err := h.services.Pipeline.Resolve(c.Request.Context(), service.ResolveInput{
		ApprovalID: id,
		Decision:   req.Decision,
		Comment:    req.Comment,
		ReviewerID: req.ReviewerID,
	})
	if err != nil {
		h.fail(c, "Failed to resolve approval", err, "approval_id", id)
		return
	}

	h.logger.Info("Approval resolved", "approval_id", id, "decision", req.Decision, "task_status", task.Status)
	c.JSON(http.StatusOK, Response{Success: true, Data: SubmitResponse{Task: task, Approval: approval}})
}

func (h *Handlers) parseID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid ID", "id", idStr, "path", c.FullPath())
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid ID",
			Code:    string(apperror.KindValidation),
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
			Code:    string(apperror.KindValidation),
		})
		return false
	}
	return true
}

// fail maps an application error onto the response envelope
func (h *Handlers) fail(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)

	h.logger.Error(msg, append(keysAndValues, "error", err, "status", status)...)
	if h.services.Metrics != nil {
		h.services.Metrics.RecordError(err)
	}

	message := err.Error()
	var appErr *apperror.Error
	if kind == "" || kind == apperror.KindConfiguration {
		message = "internal error"
	} else if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	code := string(kind)
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(status, Response{Success: false, Error: message, Code: code})
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindInvalidState, apperror.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
