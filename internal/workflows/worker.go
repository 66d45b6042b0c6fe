package workflows

import (
	"context"
	"time"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/platform/envutil"
)

// Worker is the database claim loop: every tick it tries to claim one
// runnable workflow_run (queued, retryable-failed, or stale-running)
// and drives it through the executor. Multiple workers race on SKIP
// LOCKED, so each run lands on exactly one of them.
type Worker struct {
	log      *logger.Logger
	repo     workflowrepos.WorkflowRunRepo
	executor *Executor

	tick         time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	staleRunning time.Duration
}

func NewWorker(baseLog *logger.Logger, repo workflowrepos.WorkflowRunRepo, executor *Executor) *Worker {
	return &Worker{
		log:          baseLog.With("component", "WorkflowWorker"),
		repo:         repo,
		executor:     executor,
		tick:         envutil.DurationMillis("WORKER_TICK_MS", 1000),
		maxAttempts:  envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		retryDelay:   envutil.DurationSeconds("WORKER_RETRY_DELAY_SECONDS", 30),
		staleRunning: envutil.DurationSeconds("WORKER_STALE_RUNNING_SECONDS", 120),
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.maxAttempts, w.retryDelay, w.staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				if err := w.executor.ExecuteRun(ctx, run); err != nil {
					w.log.Warn("Run finished with error", "run_id", run.ID, "kind", run.Kind, "error", err)
				}
			}
		}
	}()
}
