package steps

import (
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/services"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

/*
CreateCoreSelectionWf spawns the core-selection decision workflow for a
freshly accepted record. Records already marked core need no decision.
The child gets a snapshot of the record as it stands now plus a copy of
the execution context with transient bookkeeping stripped, and starts
halted: it represents a pending human decision, not runnable work. A
record that ever had a core-selection workflow, in any state, never
gets a second one.
*/
func CreateCoreSelectionWf(env *Env) engine.Step {
	return engine.Step{
		Name: "create_core_selection_wf",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if rec.Core {
				env.Log.Info("Record already core, no selection workflow needed", "run_id", rc.Run.ID, "control_number", rec.ControlNumber)
				return runtime.Continue()
			}
			if rec.ControlNumber == 0 {
				return runtime.Continue()
			}

			snapshot := *rec
			extra := map[string]any{}
			for k, v := range rc.Extra() {
				extra[k] = v
			}
			for _, key := range runtime.TransientKeys {
				delete(extra, key)
			}

			child, err := env.Registry.Start(rc.Ctx, domain.WorkflowKindCoreSelection, rec.ControlNumber, &snapshot, extra, services.StartOptions{
				StartHalted:  true,
				SkipIfExists: true,
			})
			if err != nil {
				return runtime.Fail(err)
			}
			if child != nil {
				env.Log.Info("Core selection workflow spawned", "run_id", rc.Run.ID, "child_run_id", child.ID, "control_number", rec.ControlNumber)
			}
			return runtime.Continue()
		},
	}
}

// CleanupPendingWorkflow drops the pending-record links held by this
// run, releasing the record for future update workflows.
func CleanupPendingWorkflow(env *Env) engine.Step {
	return engine.Step{
		Name: "cleanup_pending_workflow",
		Run: func(_ *domain.Record, rc *runtime.Context) runtime.Signal {
			if err := env.Registry.ClearPending(rc.Ctx, rc.Run.ID); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Continue()
		},
	}
}
