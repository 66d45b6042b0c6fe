package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

// Execution-context keys. Keys prefixed with an underscore (plus
// restart-count and source_data) are transient bookkeeping and are
// stripped when a downstream workflow is spawned from this one.
const (
	KeyTaskHistory        = "_task_history"
	KeyErrorMsg           = "_error_msg"
	KeyRestartCount       = "restart-count"
	KeySourceData         = "source_data"
	KeyTicketID           = "ticket_id"
	KeyRecID              = "recid"
	KeyReason             = "reason"
	KeyIsUpdate           = "is-update"
	KeyAutoApproved       = "auto-approved"
	KeyJournalCategories  = "journal_inspire_categories"
	KeyKeywordsPrediction = "keywords_prediction"
	KeyExtractedKeywords  = "extracted_keywords"
)

// TransientKeys are stripped from a spawned child's execution context so
// it starts clean.
var TransientKeys = []string{KeyTaskHistory, KeyErrorMsg, KeyRestartCount, KeySourceData}

// Notifier publishes run lifecycle events to interested clients.
type Notifier interface {
	RunProgress(run *domain.WorkflowRun, stage string, pct int, msg string)
	RunHalted(run *domain.WorkflowRun, reason string)
	RunCompleted(run *domain.WorkflowRun)
	RunFailed(run *domain.WorkflowRun, stage string, msg string)
}

/*
Context is the execution handle for a single workflow run. It wraps the
database boundary, the mutable workflow_run row, the decoded record and
execution-context documents, the per-run match cache, and the only
sanctioned ways to report progress or terminate the run.
Steps never touch workflow_run directly; they go through this object.
*/
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Run    *domain.WorkflowRun
	Repo   workflowrepos.WorkflowRunRepo
	Notify Notifier
	Log    *logger.Logger

	// Record is the decoded Run.Data document; steps mutate it in place.
	Record *domain.Record
	// Matches is the per-run memoizing cache; created with the context
	// and discarded with it.
	Matches *MatchCache

	extra map[string]any
}

// NewContext builds the execution handle for a claimed run. A run whose
// stored payload does not decode is unusable: executing it on the empty
// fallback documents would persist them over the stored ones, so the
// error is returned and the caller must not run the pipeline.
func NewContext(ctx context.Context, db *gorm.DB, run *domain.WorkflowRun, repo workflowrepos.WorkflowRunRepo, notify Notifier, log *logger.Logger) (*Context, error) {
	c := &Context{
		Ctx:     ctx,
		DB:      db,
		Run:     run,
		Repo:    repo,
		Notify:  notify,
		Log:     log,
		Matches: NewMatchCache(),
	}
	if err := c.decode(); err != nil {
		return nil, err
	}
	return c, nil
}

/*
decode parses Run.Data into Record and Run.ExtraData into the context
map. Empty documents decode to an empty record / empty map; a decode
error leaves the zero values in place and is returned for callers that
care.
*/
func (c *Context) decode() error {
	c.Record = &domain.Record{}
	c.extra = map[string]any{}
	if c.Run == nil {
		return nil
	}
	if len(c.Run.Data) > 0 {
		if err := json.Unmarshal(c.Run.Data, c.Record); err != nil {
			return err
		}
	}
	if len(c.Run.ExtraData) > 0 {
		var m map[string]any
		if err := json.Unmarshal(c.Run.ExtraData, &m); err != nil {
			return err
		}
		c.extra = m
	}
	return nil
}

// Extra returns the decoded execution-context map. Never nil.
func (c *Context) Extra() map[string]any {
	if c.extra == nil {
		c.extra = map[string]any{}
	}
	return c.extra
}

func (c *Context) SetExtra(key string, v any) {
	c.Extra()[key] = v
}

func (c *Context) DeleteExtra(key string) {
	delete(c.Extra(), key)
}

func (c *Context) ExtraString(key string) string {
	v, ok := c.Extra()[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c *Context) ExtraBool(key string) bool {
	v, ok := c.Extra()[key]
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// AppendHistory records a step name into the run's task history.
func (c *Context) AppendHistory(step string) {
	hist := c.historySlice()
	c.extra[KeyTaskHistory] = append(hist, step)
}

func (c *Context) historySlice() []any {
	v, ok := c.Extra()[KeyTaskHistory]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	if s, ok := v.([]string); ok {
		out := make([]any, 0, len(s))
		for _, x := range s {
			out = append(out, x)
		}
		return out
	}
	return nil
}

// WorkingCategories returns the category set collected by journal
// resolution in this run, in insertion order.
func (c *Context) WorkingCategories() []domain.InspireCategory {
	v, ok := c.Extra()[KeyJournalCategories]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []domain.InspireCategory:
		return t
	case []any:
		out := make([]domain.InspireCategory, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if term, ok := m["term"].(string); ok {
					out = append(out, domain.InspireCategory{Term: term})
				}
			}
		}
		return out
	}
	return nil
}

// AddWorkingCategories unions terms into the working category set.
func (c *Context) AddWorkingCategories(terms []string) {
	existing := c.WorkingCategories()
	seen := map[string]bool{}
	for _, cat := range existing {
		seen[cat.Term] = true
	}
	for _, term := range terms {
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		existing = append(existing, domain.InspireCategory{Term: term})
	}
	if len(existing) > 0 {
		c.extra[KeyJournalCategories] = existing
	}
}

func (c *Context) encode() (datatypes.JSON, datatypes.JSON, error) {
	data, err := json.Marshal(c.Record)
	if err != nil {
		return nil, nil, err
	}
	extra, err := json.Marshal(c.Extra())
	if err != nil {
		return nil, nil, err
	}
	return datatypes.JSON(data), datatypes.JSON(extra), nil
}

/*
Progress publishes a non-terminal status update. Stage/progress are
persisted (guarded so canceled runs are not overwritten), the in-memory
row is updated to match, and a notifier event is emitted. The record and
context documents are only persisted at halt/terminal boundaries.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil || c.Run == nil {
		return
	}
	now := time.Now()
	if c.Repo != nil && c.Run.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	c.Run.Stage = stage
	c.Run.Progress = pct
	c.Run.Message = msg
	c.Run.HeartbeatAt = &now
	c.Run.UpdatedAt = now
	if c.Notify != nil {
		c.Notify.RunProgress(c.Run, stage, pct, msg)
	}
}

/*
HaltRun is the durable pause primitive. It persists the record and
execution context, records the index of the step to resume from, sets
status=halted and clears the lock so the run waits (indefinitely) for
its external resume event. The halting step is never re-executed:
resumption starts at nextStep.
*/
func (c *Context) HaltRun(stage string, reason string, nextStep int) error {
	if c == nil || c.Run == nil || c.Run.ID == uuid.Nil {
		return nil
	}
	data, extra, err := c.encode()
	if err != nil {
		return err
	}
	now := time.Now()
	if c.Repo != nil {
		ok, uErr := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
			"status":       domain.WorkflowStatusHalted,
			"stage":        stage,
			"message":      reason,
			"error":        "",
			"next_step":    nextStep,
			"data":         data,
			"extra_data":   extra,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if uErr != nil {
			return uErr
		}
		if !ok {
			return nil
		}
	}
	c.Run.Status = domain.WorkflowStatusHalted
	c.Run.Stage = stage
	c.Run.Message = reason
	c.Run.Error = ""
	c.Run.NextStep = nextStep
	c.Run.Data = data
	c.Run.ExtraData = extra
	c.Run.LockedAt = nil
	c.Run.HeartbeatAt = &now
	c.Run.UpdatedAt = now
	if c.Notify != nil {
		c.Notify.RunHalted(c.Run, reason)
	}
	return nil
}

/*
FailRun marks the run terminally failed. Mutations committed by prior
steps in this run are kept: the record and context are persisted as they
stand, with no rollback.
*/
func (c *Context) FailRun(stage string, failErr error) {
	if c == nil || c.Run == nil {
		return
	}
	msg := ""
	if failErr != nil {
		msg = failErr.Error()
	}
	c.SetExtra(KeyErrorMsg, msg)
	data, extra, encErr := c.encode()
	now := time.Now()
	if c.Repo != nil && c.Run.ID != uuid.Nil && encErr == nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
			"status":        domain.WorkflowStatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"data":          data,
			"extra_data":    extra,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}
	c.Run.Status = domain.WorkflowStatusFailed
	c.Run.Stage = stage
	c.Run.Message = ""
	c.Run.Error = msg
	c.Run.LastErrorAt = &now
	c.Run.LockedAt = nil
	c.Run.UpdatedAt = now
	if encErr == nil {
		c.Run.Data = data
		c.Run.ExtraData = extra
	}
	if c.Notify != nil {
		c.Notify.RunFailed(c.Run, stage, msg)
	}
}

// Complete marks the run terminally completed and persists the final
// record and execution context.
func (c *Context) Complete(finalStage string, nextStep int) error {
	if c == nil || c.Run == nil || c.Run.ID == uuid.Nil {
		return nil
	}
	data, extra, err := c.encode()
	if err != nil {
		return err
	}
	now := time.Now()
	if c.Repo != nil {
		ok, uErr := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Run.ID, []string{domain.WorkflowStatusCanceled}, map[string]interface{}{
			"status":       domain.WorkflowStatusCompleted,
			"stage":        finalStage,
			"progress":     100,
			"message":      "",
			"error":        "",
			"next_step":    nextStep,
			"data":         data,
			"extra_data":   extra,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if uErr != nil {
			return uErr
		}
		if !ok {
			return nil
		}
	}
	c.Run.Status = domain.WorkflowStatusCompleted
	c.Run.Stage = finalStage
	c.Run.Progress = 100
	c.Run.Message = ""
	c.Run.Error = ""
	c.Run.NextStep = nextStep
	c.Run.Data = data
	c.Run.ExtraData = extra
	c.Run.LockedAt = nil
	c.Run.HeartbeatAt = &now
	c.Run.UpdatedAt = now
	if c.Notify != nil {
		c.Notify.RunCompleted(c.Run)
	}
	return nil
}

// RecID returns the control number for ticketing/logging, preferring the
// execution context's recid over the record's own.
func (c *Context) RecID() string {
	if s := c.ExtraString(KeyRecID); s != "" {
		return s
	}
	if c.Record != nil && c.Record.ControlNumber != 0 {
		return fmt.Sprint(c.Record.ControlNumber)
	}
	return ""
}
