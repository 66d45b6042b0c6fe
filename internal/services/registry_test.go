package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	pkgerrors "github.com/bibflow/holdingpen-backend/internal/pkg/errors"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

type memRuns struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.WorkflowRun
	seq  int
}

func newMemRuns() *memRuns {
	return &memRuns{rows: map[uuid.UUID]*domain.WorkflowRun{}}
}

func (m *memRuns) Create(_ dbctx.Context, runs []*domain.WorkflowRun) ([]*domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range runs {
		m.seq++
		run.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Millisecond)
		cp := *run
		m.rows[run.ID] = &cp
	}
	return runs, nil
}

func (m *memRuns) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memRuns) FindByRecordAndKind(_ dbctx.Context, recordID int64, kind string) ([]*domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WorkflowRun
	for _, run := range m.rows {
		if run.RecordID == recordID && run.Kind == kind {
			cp := *run
			out = append(out, &cp)
		}
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *memRuns) ClaimNextRunnable(_ dbctx.Context, _ int, _ time.Duration, _ time.Duration) (*domain.WorkflowRun, error) {
	return nil, nil
}

func (m *memRuns) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := m.UpdateFieldsUnlessStatus(dbc, id, nil, updates)
	return err
}

func (m *memRuns) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, status := range disallowed {
		if run.Status == status {
			return false, nil
		}
	}
	applyRunUpdates(run, updates)
	return true, nil
}

func (m *memRuns) Heartbeat(_ dbctx.Context, _ uuid.UUID) error { return nil }

func applyRunUpdates(run *domain.WorkflowRun, updates map[string]interface{}) {
	raw, _ := json.Marshal(run)
	doc := map[string]any{}
	_ = json.Unmarshal(raw, &doc)
	for k, v := range updates {
		doc[k] = v
	}
	patched, _ := json.Marshal(doc)
	_ = json.Unmarshal(patched, run)
}

type memPending struct {
	mu   sync.Mutex
	rows []*domain.PendingRecord
}

func (m *memPending) Create(_ dbctx.Context, rec *domain.PendingRecord) (*domain.PendingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
	return rec, nil
}

func (m *memPending) GetByWorkflowID(_ dbctx.Context, workflowID uuid.UUID) (*domain.PendingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if rec.WorkflowID == workflowID {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *memPending) DeleteByWorkflowID(_ dbctx.Context, workflowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, rec := range m.rows {
		if rec.WorkflowID != workflowID {
			kept = append(kept, rec)
		}
	}
	m.rows = kept
	return nil
}

type recordingSignaler struct {
	started []uuid.UUID
	resumed []uuid.UUID
	fail    bool
}

func (s *recordingSignaler) StartRun(_ context.Context, runID uuid.UUID) error {
	if s.fail {
		return errors.New("orchestrator unreachable")
	}
	s.started = append(s.started, runID)
	return nil
}

func (s *recordingSignaler) SignalResume(_ context.Context, runID uuid.UUID) error {
	if s.fail {
		return errors.New("orchestrator unreachable")
	}
	s.resumed = append(s.resumed, runID)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *memRuns, *recordingSignaler) {
	t.Helper()
	runs := newMemRuns()
	sig := &recordingSignaler{}
	reg := NewRegistry(runs, &memPending{}, nil, sig, logger.MustNew("development"))
	return reg, runs, sig
}

func testRecord() *domain.Record {
	return &domain.Record{ControlNumber: 4321, Titles: []domain.Title{{Title: "A measurement"}}}
}

func TestRegistryStartCreatesQueuedRun(t *testing.T) {
	reg, runs, sig := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), map[string]any{"is-update": false}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run == nil || run.Status != domain.WorkflowStatusQueued {
		t.Fatalf("run = %+v, want queued", run)
	}
	stored, _ := runs.GetByID(dbctx.Context{Ctx: ctx}, run.ID)
	if stored == nil {
		t.Fatalf("run not persisted")
	}
	var rec domain.Record
	if err := json.Unmarshal(stored.Data, &rec); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if rec.ControlNumber != 4321 {
		t.Fatalf("stored control number = %d", rec.ControlNumber)
	}
	if len(sig.started) != 1 || sig.started[0] != run.ID {
		t.Fatalf("orchestrator not signaled for new run")
	}
}

func TestRegistryStartRejectsLiveDuplicate(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), nil, StartOptions{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), nil, StartOptions{})
	if !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("second Start err = %v, want ErrDuplicateWorkflow", err)
	}

	// A different kind for the same record is fine.
	if _, err := reg.Start(ctx, domain.WorkflowKindCoreSelection, 4321, testRecord(), nil, StartOptions{}); err != nil {
		t.Fatalf("other kind Start: %v", err)
	}
}

func TestRegistryStartAllowsNewRunAfterTerminal(t *testing.T) {
	reg, runs, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), nil, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, first.ID, nil, map[string]interface{}{
		"status": domain.WorkflowStatusCompleted,
	}); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	second, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), nil, StartOptions{})
	if err != nil {
		t.Fatalf("Start after terminal: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected a fresh run after the prior one completed")
	}
}

func TestRegistryStartSkipIfExists(t *testing.T) {
	reg, runs, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Start(ctx, domain.WorkflowKindCoreSelection, 4321, testRecord(), nil, StartOptions{StartHalted: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.Status != domain.WorkflowStatusHalted {
		t.Fatalf("status = %q, want halted", first.Status)
	}

	// Terminal or not, any prior run suppresses the spawn silently.
	if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, first.ID, nil, map[string]interface{}{
		"status": domain.WorkflowStatusCompleted,
	}); err != nil {
		t.Fatalf("complete run: %v", err)
	}
	second, err := reg.Start(ctx, domain.WorkflowKindCoreSelection, 4321, testRecord(), nil, StartOptions{StartHalted: true, SkipIfExists: true})
	if err != nil {
		t.Fatalf("Start with SkipIfExists: %v", err)
	}
	if second != nil {
		t.Fatalf("SkipIfExists spawned a duplicate: %s", second.ID)
	}
}

func TestRegistryResume(t *testing.T) {
	reg, runs, sig := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), map[string]any{"ticket_id": 7}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, run.ID, nil, map[string]interface{}{
		"status":    domain.WorkflowStatusHalted,
		"next_step": 9,
		"message":   "waiting for robotupload callback",
	}); err != nil {
		t.Fatalf("halt run: %v", err)
	}

	resumed, err := reg.Resume(ctx, run.ID, map[string]any{"robotupload_ok": true})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != domain.WorkflowStatusQueued {
		t.Fatalf("status = %q, want queued", resumed.Status)
	}
	if resumed.NextStep != 9 {
		t.Fatalf("resume must keep the cursor, got next_step=%d", resumed.NextStep)
	}
	extra := map[string]any{}
	if err := json.Unmarshal(resumed.ExtraData, &extra); err != nil {
		t.Fatalf("decode extra: %v", err)
	}
	if extra["robotupload_ok"] != true {
		t.Fatalf("patch not merged into context: %v", extra)
	}
	if _, ok := extra["ticket_id"]; !ok {
		t.Fatalf("existing context lost on resume: %v", extra)
	}
	if len(sig.resumed) != 1 || sig.resumed[0] != run.ID {
		t.Fatalf("orchestrator not signaled on resume")
	}

	// Resuming a run that is no longer halted is a conflict.
	if _, err := reg.Resume(ctx, run.ID, nil); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("second Resume err = %v, want ErrConflict", err)
	}
	if _, err := reg.Resume(ctx, uuid.New(), nil); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Resume unknown err = %v, want ErrNotFound", err)
	}
}

func TestRegistryRestart(t *testing.T) {
	reg, runs, _ := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), map[string]any{
		runtime.KeyErrorMsg: "step blew up",
	}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, run.ID, nil, map[string]interface{}{
		"status":    domain.WorkflowStatusFailed,
		"next_step": 4,
		"error":     "step blew up",
	}); err != nil {
		t.Fatalf("fail run: %v", err)
	}

	restarted, err := reg.Restart(ctx, run.ID)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if restarted.Status != domain.WorkflowStatusQueued || restarted.NextStep != 0 {
		t.Fatalf("restart must rewind to step 0 queued, got status=%q next_step=%d", restarted.Status, restarted.NextStep)
	}
	if restarted.Error != "" {
		t.Fatalf("restart must clear the error, got %q", restarted.Error)
	}
	extra := map[string]any{}
	if err := json.Unmarshal(restarted.ExtraData, &extra); err != nil {
		t.Fatalf("decode extra: %v", err)
	}
	if got, ok := extra[runtime.KeyRestartCount].(float64); !ok || got != 1 {
		t.Fatalf("restart count = %v, want 1", extra[runtime.KeyRestartCount])
	}
	if _, ok := extra[runtime.KeyErrorMsg]; ok {
		t.Fatalf("stale error message kept across restart")
	}

	// Second restart bumps the count again.
	if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, run.ID, nil, map[string]interface{}{
		"status": domain.WorkflowStatusFailed,
	}); err != nil {
		t.Fatalf("fail run again: %v", err)
	}
	restarted, err = reg.Restart(ctx, run.ID)
	if err != nil {
		t.Fatalf("second Restart: %v", err)
	}
	extra = map[string]any{}
	_ = json.Unmarshal(restarted.ExtraData, &extra)
	if got, _ := extra[runtime.KeyRestartCount].(float64); got != 2 {
		t.Fatalf("restart count = %v, want 2", got)
	}
}

func TestRegistryRestartRejectsCompletedAndCanceled(t *testing.T) {
	reg, runs, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, status := range []string{domain.WorkflowStatusCompleted, domain.WorkflowStatusCanceled} {
		run, err := reg.Start(ctx, domain.WorkflowKindArticle, 0, testRecord(), nil, StartOptions{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, run.ID, nil, map[string]interface{}{
			"status": status,
		}); err != nil {
			t.Fatalf("set status: %v", err)
		}
		if _, err := reg.Restart(ctx, run.ID); !errors.Is(err, pkgerrors.ErrConflict) {
			t.Fatalf("Restart %s err = %v, want ErrConflict", status, err)
		}
	}
}

func TestRegistrySignalerFailureDegradesToClaimLoop(t *testing.T) {
	reg, _, sig := newTestRegistry(t)
	sig.fail = true
	ctx := context.Background()

	run, err := reg.Start(ctx, domain.WorkflowKindArticle, 4321, testRecord(), nil, StartOptions{})
	if err != nil {
		t.Fatalf("Start must succeed when the orchestrator is down: %v", err)
	}
	if run == nil || run.Status != domain.WorkflowStatusQueued {
		t.Fatalf("run = %+v, want queued", run)
	}
}
