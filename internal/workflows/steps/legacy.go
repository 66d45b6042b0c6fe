package steps

import (
	"encoding/json"
	"strings"

	"github.com/bibflow/holdingpen-backend/internal/clients/robotupload"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

// Default batch-upload priority on the legacy side; higher numbers jump
// the queue.
const legacyUploadPriority = 5

/*
SendToLegacy ships the record to the legacy system and suspends the run
until the legacy side reports the definitive outcome on the callback
URL. Inserts and updates are gated by separate feature flags; a gated
run passes through without halting. Acceptance of the upload is not
success, so the halt always follows a successful submit.
*/
func SendToLegacy(env *Env) engine.Step {
	return engine.Step{
		Name: "send_to_legacy",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			isUpdate := rc.ExtraBool(runtime.KeyIsUpdate)
			if isUpdate && !env.Flags.UpdateToLegacy() {
				env.Log.Info("Legacy update disabled by feature flag", "run_id", rc.Run.ID)
				return runtime.Continue()
			}
			if !isUpdate && !env.Flags.SendToLegacy() {
				env.Log.Info("Legacy upload disabled by feature flag", "run_id", rc.Run.ID)
				return runtime.Continue()
			}

			payload, err := json.Marshal(rec)
			if err != nil {
				return runtime.Fail(wferr.Permanent("send_to_legacy", err))
			}
			mode := robotupload.ModeInsert
			if isUpdate {
				mode = robotupload.ModeReplace
			}
			callback := strings.TrimRight(env.ServerBase, "/") + "/callback/workflows/robotupload"
			if err := env.Legacy.Submit(rc.Ctx, robotupload.Request{
				Payload:     payload,
				Mode:        mode,
				Priority:    legacyUploadPriority,
				CallbackURL: callback,
				Nonce:       rc.Run.ID.String(),
			}); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Halt("waiting for robotupload callback")
		},
	}
}

/*
WaitWebcoll suspends the run until the legacy collection rebuild
confirms the record is visible. Only production has a webcoll to wait
for.
*/
func WaitWebcoll(env *Env) engine.Step {
	return engine.Step{
		Name: "wait_webcoll",
		Run: func(_ *domain.Record, rc *runtime.Context) runtime.Signal {
			if !env.Flags.Production() {
				env.Log.Info("Webcoll wait skipped outside production", "run_id", rc.Run.ID)
				return runtime.Continue()
			}
			return runtime.Halt("waiting for webcoll confirmation")
		},
	}
}
