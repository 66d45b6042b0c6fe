package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"gorm.io/gorm"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/platform/envutil"
	"github.com/bibflow/holdingpen-backend/internal/temporalx"
	"github.com/bibflow/holdingpen-backend/internal/temporalx/wfrun"
	"github.com/bibflow/holdingpen-backend/internal/workflows"
)

// Runner hosts the Temporal worker polling the holdingpen task queue.
type Runner struct {
	log      *logger.Logger
	tc       temporalsdkclient.Client
	db       *gorm.DB
	runs     workflowrepos.WorkflowRunRepo
	executor *workflows.Executor
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, db *gorm.DB, runs workflowrepos.WorkflowRunRepo, executor *workflows.Executor) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if db == nil || runs == nil || executor == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log, tc: tc, db: db, runs: runs, executor: executor}, nil
}

// Start brings the worker up, retrying while the cluster or namespace
// is still warming.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	cfg := temporalx.LoadConfig()
	r.log.Info("Starting Temporal worker", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	maxWait := envutil.DurationSeconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := envutil.DurationMillis("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := envutil.DurationMillis("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			_ = temporalx.EnsureNamespace(ctx, cfg, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &nfe) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(clampBackoff(backoff, backoffMax, attempt))
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := envutil.Int("TEMPORAL_WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &wfrun.Activities{
		Log:      r.log,
		DB:       r.db,
		Runs:     r.runs,
		Executor: r.executor,
	}
	w.RegisterWorkflowWithOptions(wfrun.Workflow, workflow.RegisterOptions{Name: wfrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: wfrun.ActivityTick})
	return w
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
