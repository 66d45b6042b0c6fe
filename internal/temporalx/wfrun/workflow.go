package wfrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/bibflow/holdingpen-backend/internal/domain"
)

/*
Workflow drives one holdingpen run to a terminal state. The workflow
execution ID is the run's UUID; all real state lives in the
workflow_run row, so the workflow itself is a thin poll-and-wait shell:
tick until the run halts, then park on the resume signal for as long as
the curator or the legacy callback takes. History growth is bounded by
ContinueAsNew.
*/
func Workflow(ctx workflow.Context) error {
	runID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if runID == "" {
		return fmt.Errorf("wfrun: missing run id")
	}

	const (
		pollInterval         = 2 * time.Second
		haltedPollInterval   = 2 * time.Minute
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil, // run retries are handled by the executor
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	ticks := 0

	for {
		ticks++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, runID).Get(ctx, &out); err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(out.Status)) {
		case domain.WorkflowStatusCompleted, domain.WorkflowStatusCanceled:
			return nil
		case domain.WorkflowStatusFailed:
			return fmt.Errorf("workflow run failed (stage=%s): %s", out.Stage, out.Message)
		case domain.WorkflowStatusHalted:
			waitForResumeOrPoll(ctx, resumeCh, haltedPollInterval)
		default:
			if err := workflow.Sleep(ctx, pollInterval); err != nil {
				return err
			}
		}

		if shouldContinueAsNew(ctx, ticks, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func waitForResumeOrPoll(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v any
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
