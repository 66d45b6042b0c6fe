package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	pkgerrors "github.com/bibflow/holdingpen-backend/internal/pkg/errors"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/services"
)

// CallbackHandler receives the asynchronous verdicts from the legacy
// system: the robotupload result and the webcoll confirmation.
type CallbackHandler struct {
	registry *services.Registry
	runs     workflowrepos.WorkflowRunRepo
	log      *logger.Logger
}

func NewCallbackHandler(registry *services.Registry, runs workflowrepos.WorkflowRunRepo, baseLog *logger.Logger) *CallbackHandler {
	return &CallbackHandler{
		registry: registry,
		runs:     runs,
		log:      baseLog.With("handler", "CallbackHandler"),
	}
}

type robotuploadResult struct {
	RecID    int64  `json:"recid"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error_message,omitempty"`
}

type robotuploadCallback struct {
	Nonce   string              `json:"nonce"`
	Results []robotuploadResult `json:"results"`
}

// POST /callback/workflows/robotupload
// A fully successful upload resumes the halted run past its upload
// step. Any per-record error leaves the run halted with the failure
// recorded, so a curator can inspect and restart it.
func (h *CallbackHandler) Robotupload(c *gin.Context) {
	var cb robotuploadCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid callback payload"})
		return
	}
	runID, err := uuid.Parse(cb.Nonce)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nonce"})
		return
	}

	var firstErr string
	for _, res := range cb.Results {
		if !res.Success {
			firstErr = res.ErrorMsg
			break
		}
	}
	if firstErr != "" {
		h.log.Warn("Robotupload reported failure", "run_id", runID, "error", firstErr)
		ok, uErr := h.runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Request.Context()}, runID,
			[]string{domain.WorkflowStatusCanceled},
			map[string]interface{}{
				"message":       "robotupload failed: " + firstErr,
				"last_error_at": time.Now(),
				"updated_at":    time.Now(),
			})
		if uErr != nil || !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record upload failure"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "failure recorded"})
		return
	}

	run, err := h.registry.Resume(c.Request.Context(), runID, nil)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		case errors.Is(err, pkgerrors.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow is not waiting for this callback"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": run})
}

type webcollCallback struct {
	RecIDs []int64 `json:"recids"`
	Nonce  string  `json:"nonce"`
}

// POST /callback/workflows/webcoll
func (h *CallbackHandler) Webcoll(c *gin.Context) {
	var cb webcollCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid callback payload"})
		return
	}
	runID, err := uuid.Parse(cb.Nonce)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nonce"})
		return
	}
	run, err := h.registry.Resume(c.Request.Context(), runID, nil)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		case errors.Is(err, pkgerrors.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow is not waiting for webcoll"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": run})
}
