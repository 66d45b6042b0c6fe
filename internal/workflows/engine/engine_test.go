package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.MustNew("development")
}

func testContext(t *testing.T, run *domain.WorkflowRun) *runtime.Context {
	t.Helper()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	rc, err := runtime.NewContext(context.Background(), nil, run, nil, nil, testLogger(t))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return rc
}

func named(name string, fn func(rec *domain.Record, rc *runtime.Context) runtime.Signal) Step {
	return Step{Name: name, Run: fn}
}

func recordCalls(calls *[]string, name string, sig runtime.Signal) Step {
	return named(name, func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
		*calls = append(*calls, name)
		return sig
	})
}

func TestPipelineRunsAllStepsAndCompletes(t *testing.T) {
	var calls []string
	p := NewPipeline("article", testLogger(t), []Step{
		recordCalls(&calls, "one", runtime.Continue()),
		recordCalls(&calls, "two", runtime.Continue()),
		recordCalls(&calls, "three", runtime.Continue()),
	})
	run := &domain.WorkflowRun{Status: domain.WorkflowStatusRunning}
	rc := testContext(t, run)
	if err := p.Execute(rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 3 || calls[0] != "one" || calls[2] != "three" {
		t.Fatalf("calls = %v", calls)
	}
	if run.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if run.NextStep != 3 {
		t.Fatalf("next_step = %d", run.NextStep)
	}
}

func TestPipelineHaltPersistsCursorPastHaltingStep(t *testing.T) {
	var calls []string
	p := NewPipeline("article", testLogger(t), []Step{
		recordCalls(&calls, "one", runtime.Continue()),
		recordCalls(&calls, "pause", runtime.Halt("waiting for approval")),
		recordCalls(&calls, "three", runtime.Continue()),
	})
	run := &domain.WorkflowRun{Status: domain.WorkflowStatusRunning}
	rc := testContext(t, run)
	if err := p.Execute(rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}
	if run.Status != domain.WorkflowStatusHalted {
		t.Fatalf("status = %s", run.Status)
	}
	if run.NextStep != 2 {
		t.Fatalf("next_step = %d, want 2 (past the halting step)", run.NextStep)
	}
	if run.Message != "waiting for approval" {
		t.Fatalf("message = %q", run.Message)
	}
}

func TestPipelineResumesFromCursorWithoutReexecuting(t *testing.T) {
	var calls []string
	p := NewPipeline("article", testLogger(t), []Step{
		recordCalls(&calls, "one", runtime.Continue()),
		recordCalls(&calls, "pause", runtime.Halt("again")),
		recordCalls(&calls, "three", runtime.Continue()),
	})
	run := &domain.WorkflowRun{Status: domain.WorkflowStatusRunning, NextStep: 2}
	rc := testContext(t, run)
	if err := p.Execute(rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 1 || calls[0] != "three" {
		t.Fatalf("calls = %v, want only the step after the cursor", calls)
	}
	if run.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestPipelineFailKeepsPriorMutations(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipeline("article", testLogger(t), []Step{
		named("mutate", func(rec *domain.Record, _ *runtime.Context) runtime.Signal {
			rec.Titles = append(rec.Titles, domain.Title{Title: "kept"})
			return runtime.Continue()
		}),
		named("explode", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
			return runtime.Fail(boom)
		}),
	})
	run := &domain.WorkflowRun{Status: domain.WorkflowStatusRunning}
	rc := testContext(t, run)
	if err := p.Execute(rc); !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v", err)
	}
	if run.Status != domain.WorkflowStatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	var rec domain.Record
	if err := json.Unmarshal(run.Data, &rec); err != nil {
		t.Fatalf("decode persisted record: %v", err)
	}
	if len(rec.Titles) != 1 || rec.Titles[0].Title != "kept" {
		t.Fatalf("prior mutation lost: %+v", rec.Titles)
	}
	if run.Error == "" {
		t.Fatal("error column empty")
	}
}

func TestPipelineAppendsTaskHistoryPerAttempt(t *testing.T) {
	p := NewPipeline("article", testLogger(t), []Step{
		named("first", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
			return runtime.Continue()
		}),
		named("second", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
			return runtime.Halt("checkpoint")
		}),
	})
	run := &domain.WorkflowRun{Status: domain.WorkflowStatusRunning}
	rc := testContext(t, run)
	if err := p.Execute(rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var extra map[string]any
	if err := json.Unmarshal(run.ExtraData, &extra); err != nil {
		t.Fatalf("decode extra data: %v", err)
	}
	hist, _ := extra[runtime.KeyTaskHistory].([]any)
	if len(hist) != 2 || hist[0] != "first" || hist[1] != "second" {
		t.Fatalf("task history = %v", hist)
	}
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	attempts := 0
	step := Wrap(named("flaky", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
		attempts++
		if attempts < 3 {
			return runtime.Fail(wferr.Transient("flaky", errors.New("connection reset")))
		}
		return runtime.Continue()
	}), WithRetry(5, time.Millisecond))

	rc := testContext(t, &domain.WorkflowRun{Status: domain.WorkflowStatusRunning})
	sig := step.Run(rc.Record, rc)
	if !sig.IsContinue() {
		t.Fatalf("signal = %+v", sig)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestWithRetryDoesNotRetryPermanentFailure(t *testing.T) {
	attempts := 0
	step := Wrap(named("rejected", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
		attempts++
		return runtime.Fail(wferr.Permanent("rejected", errors.New("bad payload")))
	}), WithRetry(5, time.Millisecond))

	rc := testContext(t, &domain.WorkflowRun{Status: domain.WorkflowStatusRunning})
	sig := step.Run(rc.Record, rc)
	if !sig.IsFail() {
		t.Fatalf("signal = %+v", sig)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetryExhaustionEscalatesToPermanent(t *testing.T) {
	attempts := 0
	step := Wrap(named("down", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
		attempts++
		return runtime.Fail(wferr.Transient("down", errors.New("still down")))
	}), WithRetry(3, time.Millisecond))

	rc := testContext(t, &domain.WorkflowRun{Status: domain.WorkflowStatusRunning})
	sig := step.Run(rc.Record, rc)
	if !sig.IsFail() {
		t.Fatalf("signal = %+v", sig)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if wferr.IsTransient(sig.Err) {
		t.Fatalf("exhausted error still transient: %v", sig.Err)
	}
}

func TestWithRetryDoesNotRetryHalt(t *testing.T) {
	attempts := 0
	step := Wrap(named("pause", func(_ *domain.Record, _ *runtime.Context) runtime.Signal {
		attempts++
		return runtime.Halt("wait")
	}), WithRetry(5, time.Millisecond))

	rc := testContext(t, &domain.WorkflowRun{Status: domain.WorkflowStatusRunning})
	sig := step.Run(rc.Record, rc)
	if !sig.IsHalt() || attempts != 1 {
		t.Fatalf("signal = %+v attempts = %d", sig, attempts)
	}
}
