package wfrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Runs     workflowrepos.WorkflowRunRepo
	Executor *workflows.Executor
}

/*
Tick advances the run by one engine pass. Terminal and halted runs are
reported back without touching them; a runnable run is marked running
(unless canceled underneath us) and executed to its next suspension
point or terminal state. The run row, not Temporal, is the source of
truth for everything the tick reports.
*/
func (a *Activities) Tick(ctx context.Context, runID string) (TickResult, error) {
	res := TickResult{RunID: strings.TrimSpace(runID)}
	if a == nil || a.DB == nil || a.Runs == nil || a.Executor == nil {
		return res, fmt.Errorf("wfrun: activity not configured")
	}
	parsed, err := uuid.Parse(res.RunID)
	if err != nil || parsed == uuid.Nil {
		return res, fmt.Errorf("wfrun: invalid run id %q", runID)
	}

	run, err := a.Runs.GetByID(dbctx.Context{Ctx: ctx}, parsed)
	if err != nil {
		return res, err
	}
	if run == nil {
		return res, fmt.Errorf("wfrun: run %s not found", parsed)
	}
	if run.IsTerminal() || run.Status == domain.WorkflowStatusHalted {
		return snapshot(res, run), nil
	}

	stopHB := a.startHeartbeat(ctx, parsed)
	defer stopHB()

	now := time.Now()
	ok, err := a.Runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, parsed, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
		"status":       domain.WorkflowStatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return res, err
	}
	if !ok {
		return snapshot(res, run), nil
	}
	run.Status = domain.WorkflowStatusRunning
	run.LockedAt = &now
	run.HeartbeatAt = &now

	if execErr := a.Executor.ExecuteRun(ctx, run); execErr != nil && a.Log != nil {
		a.Log.Warn("Tick execution finished with error", "run_id", parsed, "error", execErr)
	}

	updated, err := a.Runs.GetByID(dbctx.Context{Ctx: ctx}, parsed)
	if err != nil {
		return res, err
	}
	if updated == nil {
		return res, fmt.Errorf("wfrun: run %s not found after tick", parsed)
	}
	return snapshot(res, updated), nil
}

func snapshot(res TickResult, run *domain.WorkflowRun) TickResult {
	res.Status = run.Status
	res.Stage = run.Stage
	res.Progress = run.Progress
	res.Message = run.Message
	return res
}

func (a *Activities) startHeartbeat(ctx context.Context, runID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case <-dbHB.C:
				_ = a.Runs.Heartbeat(dbctx.Context{Ctx: ctx}, runID)
			}
		}
	}()
	return func() { close(done) }
}
