package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

// WithLogging logs step entry and outcome with duration.
func WithLogging(baseLog *logger.Logger) Middleware {
	return func(next Step) Step {
		run := next.Run
		name := next.Name
		next.Run = func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			log := baseLog.With("step", name, "run_id", rc.Run.ID)
			log.Debug("Step starting")
			started := time.Now()
			sig := run(rec, rc)
			elapsed := time.Since(started)
			switch {
			case sig.IsHalt():
				log.Info("Step halted run", "reason", sig.Reason, "elapsed", elapsed)
			case sig.IsFail():
				log.Error("Step failed", "error", sig.Err, "elapsed", elapsed)
			default:
				log.Debug("Step done", "elapsed", elapsed)
			}
			return sig
		}
		return next
	}
}

/*
WithRetry retries a step that fails with a transient error, using
exponential backoff starting at base, up to maxTries attempts total.
Permanent and data errors pass through on the first attempt; a
transient failure that survives all attempts is escalated to a
permanent failure. Halt and continue signals are never retried.
*/
func WithRetry(maxTries uint, base time.Duration) Middleware {
	return func(next Step) Step {
		run := next.Run
		next.Run = func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			op := func() (runtime.Signal, error) {
				sig := run(rec, rc)
				if !sig.IsFail() {
					return sig, nil
				}
				if wferr.IsTransient(sig.Err) {
					return runtime.Signal{}, sig.Err
				}
				return runtime.Signal{}, backoff.Permanent(sig.Err)
			}
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = base
			sig, err := backoff.Retry(rc.Ctx, op,
				backoff.WithBackOff(bo),
				backoff.WithMaxTries(maxTries),
			)
			if err != nil {
				if wferr.IsTransient(err) {
					err = wferr.Permanent(next.Name+" retries exhausted", err)
				}
				return runtime.Fail(err)
			}
			return sig
		}
		return next
	}
}
