package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	pkgerrors "github.com/bibflow/holdingpen-backend/internal/pkg/errors"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

// ErrDuplicateWorkflow is returned when a record already has a workflow
// of the requested kind and the caller did not ask to tolerate one.
var ErrDuplicateWorkflow = errors.New("workflow of this kind already exists for record")

// RunSignaler pokes the orchestration layer when a halted run becomes
// runnable again. Optional; the claim loop will pick the run up on its
// own tick regardless.
type RunSignaler interface {
	SignalResume(ctx context.Context, runID uuid.UUID) error
	StartRun(ctx context.Context, runID uuid.UUID) error
}

// StartOptions controls run creation.
type StartOptions struct {
	// StartHalted creates the run already suspended, waiting for an
	// explicit resume (curator decision workflows start this way).
	StartHalted bool
	// SkipIfExists makes Start a no-op returning (nil, nil) when any
	// workflow of this kind already exists for the record, terminal or
	// not. Without it a live duplicate is ErrDuplicateWorkflow.
	SkipIfExists bool
}

// Registry owns workflow run lifecycle: creation with the duplicate
// guard, and resumption of halted runs.
type Registry struct {
	runs     workflowrepos.WorkflowRunRepo
	pending  workflowrepos.PendingRecordRepo
	notify   *WorkflowNotifier
	signaler RunSignaler
	log      *logger.Logger
}

func NewRegistry(runs workflowrepos.WorkflowRunRepo, pending workflowrepos.PendingRecordRepo, notify *WorkflowNotifier, signaler RunSignaler, baseLog *logger.Logger) *Registry {
	return &Registry{
		runs:     runs,
		pending:  pending,
		notify:   notify,
		signaler: signaler,
		log:      baseLog.With("service", "Registry"),
	}
}

// Existing returns the most recent workflow of the given kind for the
// record, any status, or nil.
func (r *Registry) Existing(ctx context.Context, recordID int64, kind string) (*domain.WorkflowRun, error) {
	runs, err := r.runs.FindByRecordAndKind(dbctx.Context{Ctx: ctx}, recordID, kind)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[len(runs)-1], nil
}

/*
Start creates a new workflow run for a record. The duplicate guard runs
first: with SkipIfExists any prior workflow of the kind suppresses
creation silently, otherwise a non-terminal prior workflow is an
ErrDuplicateWorkflow.
*/
func (r *Registry) Start(ctx context.Context, kind string, recordID int64, rec *domain.Record, extra map[string]any, opts StartOptions) (*domain.WorkflowRun, error) {
	if recordID != 0 {
		existing, err := r.Existing(ctx, recordID, kind)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if opts.SkipIfExists {
				r.log.Info("Workflow already exists, skipping spawn", "record_id", recordID, "kind", kind, "existing_run", existing.ID)
				return nil, nil
			}
			if !existing.IsTerminal() {
				return nil, ErrDuplicateWorkflow
			}
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extraRaw, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}

	status := domain.WorkflowStatusQueued
	if opts.StartHalted {
		status = domain.WorkflowStatusHalted
	}
	run := &domain.WorkflowRun{
		ID:        uuid.New(),
		RecordID:  recordID,
		Kind:      kind,
		Status:    status,
		Data:      datatypes.JSON(data),
		ExtraData: datatypes.JSON(extraRaw),
	}
	if _, err := r.runs.Create(dbctx.Context{Ctx: ctx}, []*domain.WorkflowRun{run}); err != nil {
		return nil, err
	}
	r.log.Info("Workflow run created", "run_id", run.ID, "record_id", recordID, "kind", kind, "status", status)
	if r.notify != nil {
		r.notify.RunQueued(run)
	}
	if r.signaler != nil && status == domain.WorkflowStatusQueued {
		if err := r.signaler.StartRun(ctx, run.ID); err != nil {
			r.log.Warn("orchestrator start failed, claim loop will pick the run up", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

/*
Resume moves a halted run back to queued so the next executor tick picks
it up at its persisted cursor. Patch entries are merged into the
execution context first (callback payloads land here). Resuming a run
that is not halted is a conflict.
*/
func (r *Registry) Resume(ctx context.Context, runID uuid.UUID, patch map[string]any) (*domain.WorkflowRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	run, err := r.runs.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, pkgerrors.ErrNotFound
	}
	if run.Status != domain.WorkflowStatusHalted {
		return nil, pkgerrors.ErrConflict
	}

	extra := map[string]any{}
	if len(run.ExtraData) > 0 {
		_ = json.Unmarshal(run.ExtraData, &extra)
	}
	for k, v := range patch {
		extra[k] = v
	}
	extraRaw, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ok, err := r.runs.UpdateFieldsUnlessStatus(dbc, run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
		"status":     domain.WorkflowStatusQueued,
		"extra_data": datatypes.JSON(extraRaw),
		"message":    "",
		"locked_at":  nil,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.ErrConflict
	}
	run.Status = domain.WorkflowStatusQueued
	run.ExtraData = datatypes.JSON(extraRaw)
	run.Message = ""
	run.LockedAt = nil
	run.UpdatedAt = now

	r.log.Info("Workflow run resumed", "run_id", run.ID, "next_step", run.NextStep)
	if r.notify != nil {
		r.notify.RunQueued(run)
	}
	if r.signaler != nil {
		if err := r.signaler.SignalResume(ctx, run.ID); err != nil {
			r.log.Warn("resume signal failed, claim loop will pick the run up", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

/*
Restart rewinds a run to its first step and queues it. The pipeline's
opening step reloads the pristine source data, so edits from the
aborted pass are discarded. Terminal failed runs and halted runs can be
restarted; completed and canceled ones cannot.
*/
func (r *Registry) Restart(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	run, err := r.runs.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, pkgerrors.ErrNotFound
	}
	if run.Status == domain.WorkflowStatusCompleted || run.Status == domain.WorkflowStatusCanceled {
		return nil, pkgerrors.ErrConflict
	}

	extra := map[string]any{}
	if len(run.ExtraData) > 0 {
		_ = json.Unmarshal(run.ExtraData, &extra)
	}
	count := 0
	if v, ok := extra[runtime.KeyRestartCount].(float64); ok {
		count = int(v)
	}
	extra[runtime.KeyRestartCount] = count + 1
	delete(extra, runtime.KeyErrorMsg)
	extraRaw, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ok, err := r.runs.UpdateFieldsUnlessStatus(dbc, run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
		"status":     domain.WorkflowStatusQueued,
		"next_step":  0,
		"error":      "",
		"message":    "",
		"extra_data": datatypes.JSON(extraRaw),
		"locked_at":  nil,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.ErrConflict
	}
	run.Status = domain.WorkflowStatusQueued
	run.NextStep = 0
	run.Error = ""
	run.Message = ""
	run.ExtraData = datatypes.JSON(extraRaw)
	run.LockedAt = nil
	run.UpdatedAt = now

	r.log.Info("Workflow run restarted", "run_id", run.ID, "restart_count", count+1)
	if r.notify != nil {
		r.notify.RunQueued(run)
	}
	if r.signaler != nil {
		if err := r.signaler.SignalResume(ctx, run.ID); err != nil {
			r.log.Warn("restart signal failed, claim loop will pick the run up", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

// TrackPending links a matched record to a live update workflow so a
// second update for the same record can be detected while this one is
// in flight.
func (r *Registry) TrackPending(ctx context.Context, runID uuid.UUID, recordID int64) error {
	_, err := r.pending.Create(dbctx.Context{Ctx: ctx}, &domain.PendingRecord{
		ID:         uuid.New(),
		WorkflowID: runID,
		RecordID:   recordID,
	})
	return err
}

// ClearPending drops all pending-record links for a finished workflow.
func (r *Registry) ClearPending(ctx context.Context, runID uuid.UUID) error {
	return r.pending.DeleteByWorkflowID(dbctx.Context{Ctx: ctx}, runID)
}
