package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/engine"
	"github.com/workstream-io/workstream/internal/application/service"
	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/machine"
)

// actorHeader carries the acting user's id; authentication is out of scope
const actorHeader = "X-Actor-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    engine.Engine
	templates service.TemplateService
	processes service.ProcessService
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(eng engine.Engine, templates service.TemplateService, processes service.ProcessService, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine:    eng,
		templates: templates,
		processes: processes,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondError maps domain errors onto HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, entity.ErrInvalidState), errors.Is(err, machine.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrValidation):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func (h *Handlers) respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// actor extracts the acting user id from the request headers
func actor(c *gin.Context) string {
	return c.GetHeader(actorHeader)
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Templates ---

// CreateTemplate creates a new draft template
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var tmpl entity.ProcessTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	tmpl.CreatedBy = actor(c)

	if err := h.templates.Create(c.Request.Context(), &tmpl); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: tmpl})
}

// ListTemplates lists the latest version of each template
func (h *Handlers) ListTemplates(c *gin.Context) {
	limit, offset := pagination(c)
	templates, err := h.templates.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, templates)
}

// GetTemplate returns the latest version of a template
func (h *Handlers) GetTemplate(c *gin.Context) {
	tmpl, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, tmpl)
}

// UpdateTemplate edits a draft template version
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid version"})
		return
	}

	var tmpl entity.ProcessTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	tmpl.ID = c.Param("id")
	tmpl.Version = version

	if err := h.templates.Update(c.Request.Context(), &tmpl); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, tmpl)
}

// PublishTemplate validates and freezes a template version
func (h *Handlers) PublishTemplate(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid version"})
		return
	}

	if err := h.templates.Publish(c.Request.Context(), c.Param("id"), version); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// NewTemplateVersion copies the latest version into a fresh draft
func (h *Handlers) NewTemplateVersion(c *gin.Context) {
	draft, err := h.templates.NewVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: draft})
}

// --- Processes ---

type createProcessRequest struct {
	TemplateID string         `json:"template_id" binding:"required"`
	Name       string         `json:"name"`
	Variables  map[string]any `json:"variables"`
}

// CreateProcess creates a draft process instance from a published template
func (h *Handlers) CreateProcess(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	instance, err := h.processes.CreateInstance(c.Request.Context(), req.TemplateID, req.Name, actor(c), req.Variables)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// ListProcesses lists process instances filtered by status
func (h *Handlers) ListProcesses(c *gin.Context) {
	status := entity.ProcessStatus(c.DefaultQuery("status", string(entity.ProcessStatusActive)))
	limit, offset := pagination(c)

	instances, err := h.processes.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, instances)
}

// GetProcess returns a single process instance
func (h *Handlers) GetProcess(c *gin.Context) {
	instance, err := h.processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, instance)
}

// ListProcessSteps returns all step instances of a process
func (h *Handlers) ListProcessSteps(c *gin.Context) {
	steps, err := h.processes.Steps(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, steps)
}

// GetProcessHistory returns the audit trail of a process
func (h *Handlers) GetProcessHistory(c *gin.Context) {
	entries, err := h.processes.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, entries)
}

// StartProcess activates a draft process instance
func (h *Handlers) StartProcess(c *gin.Context) {
	if err := h.engine.StartProcess(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelProcess cancels an active or suspended process
func (h *Handlers) CancelProcess(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.engine.CancelProcess(c.Request.Context(), c.Param("id"), actor(c), req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// --- Steps ---

type completeStepRequest struct {
	FormData map[string]any `json:"form_data"`
	Decision string         `json:"decision"`
}

// CompleteStep finishes a step and routes the process forward
func (h *Handlers) CompleteStep(c *gin.Context) {
	var req completeStepRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.engine.CompleteStep(c.Request.Context(), c.Param("id"), actor(c), req.FormData, req.Decision); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// ClaimStep binds a role/department step to the caller
func (h *Handlers) ClaimStep(c *gin.Context) {
	if err := h.engine.ClaimStep(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id" binding:"required"`
}

// AssignStep binds an unassigned step to a user
func (h *Handlers) AssignStep(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	if err := h.engine.AssignStep(c.Request.Context(), c.Param("id"), actor(c), req.AssigneeID); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// ReassignStep replaces a step's assignee
func (h *Handlers) ReassignStep(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	if err := h.engine.ReassignStep(c.Request.Context(), c.Param("id"), actor(c), req.AssigneeID); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

type skipRequest struct {
	Reason string `json:"reason"`
}

// SkipStep marks a step skipped and routes forward
func (h *Handlers) SkipStep(c *gin.Context) {
	var req skipRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.engine.SkipStep(c.Request.Context(), c.Param("id"), actor(c), req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

// EscalateStep escalates a single live step by one level
func (h *Handlers) EscalateStep(c *gin.Context) {
	var req escalateRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.engine.EscalateStep(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// EscalateOverdue triggers the overdue sweep on demand
func (h *Handlers) EscalateOverdue(c *gin.Context) {
	if err := h.engine.EscalateOverdueTasks(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
