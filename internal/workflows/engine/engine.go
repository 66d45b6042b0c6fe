// Package engine runs a workflow's ordered step list against a run's
// execution context, honoring the halt/resume cursor persisted on the
// workflow_run row.
package engine

import (
	"fmt"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

// Step is one unit of workflow execution. Run mutates the record and
// execution context in place and reports the outcome as a signal.
type Step struct {
	Name string
	Run  func(rec *domain.Record, rc *runtime.Context) runtime.Signal
}

// Middleware wraps a step with cross-cutting behavior (retry, logging).
type Middleware func(Step) Step

// Wrap applies middleware to a single step, outermost first.
func Wrap(step Step, mws ...Middleware) Step {
	for i := len(mws) - 1; i >= 0; i-- {
		step = mws[i](step)
	}
	return step
}

/*
Pipeline is the immutable step list for one workflow kind. Pipeline-wide
middleware is applied once at construction, so Execute runs the already
wrapped steps.
*/
type Pipeline struct {
	Kind  string
	steps []Step
	log   *logger.Logger
}

func NewPipeline(kind string, baseLog *logger.Logger, steps []Step, mws ...Middleware) *Pipeline {
	wrapped := make([]Step, len(steps))
	for i, s := range steps {
		wrapped[i] = Wrap(s, mws...)
	}
	return &Pipeline{
		Kind:  kind,
		steps: wrapped,
		log:   baseLog.With("component", "engine", "workflow_kind", kind),
	}
}

func (p *Pipeline) Len() int { return len(p.steps) }

/*
Execute advances the run from its persisted cursor. Each step name is
appended to the task history before the step runs, so history reflects
attempts rather than successes. A halt persists the cursor past the
halting step: resumption never re-executes it. A fail keeps everything
prior steps committed; no rollback.
*/
func (p *Pipeline) Execute(rc *runtime.Context) error {
	start := rc.Run.NextStep
	if start < 0 {
		start = 0
	}
	if start >= len(p.steps) {
		return rc.Complete(p.Kind, len(p.steps))
	}

	for i := start; i < len(p.steps); i++ {
		step := p.steps[i]
		rc.AppendHistory(step.Name)
		rc.Progress(step.Name, progressPct(i, len(p.steps)), "")

		sig := step.Run(rc.Record, rc)
		switch {
		case sig.IsHalt():
			p.log.Info("Run halted", "run_id", rc.Run.ID, "step", step.Name, "reason", sig.Reason)
			return rc.HaltRun(step.Name, sig.Reason, i+1)
		case sig.IsFail():
			err := sig.Err
			if err == nil {
				err = fmt.Errorf("step %s failed", step.Name)
			}
			p.log.Error("Run failed", "run_id", rc.Run.ID, "step", step.Name, "error", err)
			rc.FailRun(step.Name, err)
			return err
		}
	}
	return rc.Complete(p.Kind, len(p.steps))
}

func progressPct(i, total int) int {
	if total == 0 {
		return 100
	}
	return i * 100 / total
}
