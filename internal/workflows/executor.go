package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

// Executor advances a single claimed run through its pipeline. Both
// execution drivers (the claim loop and the Temporal activity) share
// one Executor instance.
type Executor struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      workflowrepos.WorkflowRunRepo
	notify    runtime.Notifier
	pipelines Pipelines
}

func NewExecutor(db *gorm.DB, baseLog *logger.Logger, repo workflowrepos.WorkflowRunRepo, notify runtime.Notifier, pipelines Pipelines) *Executor {
	return &Executor{
		db:        db,
		log:       baseLog.With("component", "Executor"),
		repo:      repo,
		notify:    notify,
		pipelines: pipelines,
	}
}

// ExecuteRun runs one engine pass over an already claimed run. A panic
// in a step marks the run failed rather than killing the driver.
func (e *Executor) ExecuteRun(ctx context.Context, run *domain.WorkflowRun) (err error) {
	rc, decErr := runtime.NewContext(ctx, e.db, run, e.repo, e.notify, e.log)
	if decErr != nil {
		e.log.Error("Stored run payload does not decode", "run_id", run.ID, "kind", run.Kind, "error", decErr)
		e.failCorruptRun(ctx, run, decErr)
		return decErr
	}

	pipeline, ok := e.pipelines[run.Kind]
	if !ok {
		unknownErr := fmt.Errorf("no pipeline registered for workflow kind %q", run.Kind)
		rc.FailRun("dispatch", unknownErr)
		return unknownErr
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Workflow step panic", "run_id", run.ID, "kind", run.Kind, "panic", r)
			panicErr := fmt.Errorf("workflow panic: %v", r)
			rc.FailRun("panic", panicErr)
			err = panicErr
		}
	}()
	return pipeline.Execute(rc)
}

// failCorruptRun marks a run failed while leaving its stored data and
// extra_data columns exactly as they are, for forensics and a manual
// repair-and-restart.
func (e *Executor) failCorruptRun(ctx context.Context, run *domain.WorkflowRun, decErr error) {
	msg := decErr.Error()
	now := time.Now()
	if e.repo != nil && run.ID != uuid.Nil {
		ok, _ := e.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
			"status":        domain.WorkflowStatusFailed,
			"stage":         "decode",
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}
	run.Status = domain.WorkflowStatusFailed
	run.Stage = "decode"
	run.Message = ""
	run.Error = msg
	run.LastErrorAt = &now
	run.LockedAt = nil
	run.UpdatedAt = now
	if e.notify != nil {
		e.notify.RunFailed(run, "decode", msg)
	}
}

// ExecuteByID loads the run first; used by the Temporal activity, which
// only carries the run id across the wire.
func (e *Executor) ExecuteByID(ctx context.Context, runID uuid.UUID) error {
	run, err := e.repo.GetByID(dbctx.Context{Ctx: ctx}, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("workflow run %s not found", runID)
	}
	if run.IsTerminal() {
		return nil
	}
	return e.ExecuteRun(ctx, run)
}

// Status returns the current status/next-step for a run; the Temporal
// workflow polls this through its Tick activity.
func (e *Executor) Status(ctx context.Context, runID uuid.UUID) (string, error) {
	run, err := e.repo.GetByID(dbctx.Context{Ctx: ctx}, runID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("workflow run %s not found", runID)
	}
	return run.Status, nil
}
