package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	pkgerrors "github.com/bibflow/holdingpen-backend/internal/pkg/errors"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/services"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

type WorkflowHandler struct {
	registry *services.Registry
	runs     workflowrepos.WorkflowRunRepo
	log      *logger.Logger
}

func NewWorkflowHandler(registry *services.Registry, runs workflowrepos.WorkflowRunRepo, baseLog *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		registry: registry,
		runs:     runs,
		log:      baseLog.With("handler", "WorkflowHandler"),
	}
}

type submissionRequest struct {
	Record   domain.Record  `json:"record"`
	IsUpdate bool           `json:"is_update,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// POST /api/submissions
// Accepts a harvested or submitted record and opens its article
// workflow. The raw record is stashed as source data so the run can be
// restarted from a pristine copy.
func (h *WorkflowHandler) CreateSubmission(c *gin.Context) {
	var req submissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission payload"})
		return
	}

	extra := map[string]any{}
	for k, v := range req.Extra {
		extra[k] = v
	}
	var source map[string]any
	raw, err := json.Marshal(req.Record)
	if err == nil {
		err = json.Unmarshal(raw, &source)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record"})
		return
	}
	extra[runtime.KeySourceData] = source
	if req.IsUpdate {
		extra[runtime.KeyIsUpdate] = true
	}

	run, err := h.registry.Start(c.Request.Context(), domain.WorkflowKindArticle, req.Record.ControlNumber, &req.Record, extra, services.StartOptions{})
	if err != nil {
		if errors.Is(err, services.ErrDuplicateWorkflow) {
			c.JSON(http.StatusConflict, gin.H{"error": "a workflow for this record is already in progress"})
			return
		}
		h.log.Error("submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create workflow"})
		return
	}
	if run.RecordID != 0 && req.IsUpdate {
		if err := h.registry.TrackPending(c.Request.Context(), run.ID, run.RecordID); err != nil {
			h.log.Warn("pending record tracking failed", "run_id", run.ID, "error", err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"workflow": run})
}

// GET /api/holdingpen/:id
func (h *WorkflowHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	run, err := h.runs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": run})
}

type resumeRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// POST /api/holdingpen/:id/resume
// Curator decision endpoint: merges the posted context into the run and
// queues it from its saved cursor.
func (h *WorkflowHandler) ResumeRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resume payload"})
		return
	}
	run, err := h.registry.Resume(c.Request.Context(), id, req.Context)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		case errors.Is(err, pkgerrors.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow is not halted"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": run})
}

// POST /api/holdingpen/:id/restart
func (h *WorkflowHandler) RestartRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	run, err := h.registry.Restart(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		case errors.Is(err, pkgerrors.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow cannot be restarted from its current state"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": run})
}
