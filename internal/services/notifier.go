package services

import (
	"context"
	"time"

	redisclient "github.com/bibflow/holdingpen-backend/internal/clients/redis"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

// WorkflowNotifier fans run lifecycle events out over the redis bus.
// Publishing is best-effort: a dropped event never fails the run.
type WorkflowNotifier struct {
	bus redisclient.EventBus
	log *logger.Logger
}

func NewWorkflowNotifier(bus redisclient.EventBus, baseLog *logger.Logger) *WorkflowNotifier {
	return &WorkflowNotifier{
		bus: bus,
		log: baseLog.With("service", "WorkflowNotifier"),
	}
}

func (n *WorkflowNotifier) publish(ev redisclient.Event) {
	if n == nil || n.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("event publish failed", "type", ev.Type, "run_id", ev.RunID, "error", err)
	}
}

func (n *WorkflowNotifier) base(run *domain.WorkflowRun, typ string) redisclient.Event {
	return redisclient.Event{
		Type:     typ,
		RunID:    run.ID,
		RecordID: run.RecordID,
		Kind:     run.Kind,
		Status:   run.Status,
		Stage:    run.Stage,
		Progress: run.Progress,
		At:       time.Now(),
	}
}

func (n *WorkflowNotifier) RunProgress(run *domain.WorkflowRun, stage string, pct int, msg string) {
	ev := n.base(run, "run.progress")
	ev.Stage = stage
	ev.Progress = pct
	ev.Message = msg
	n.publish(ev)
}

func (n *WorkflowNotifier) RunHalted(run *domain.WorkflowRun, reason string) {
	ev := n.base(run, "run.halted")
	ev.Message = reason
	n.publish(ev)
}

func (n *WorkflowNotifier) RunCompleted(run *domain.WorkflowRun) {
	n.publish(n.base(run, "run.completed"))
}

func (n *WorkflowNotifier) RunFailed(run *domain.WorkflowRun, stage string, msg string) {
	ev := n.base(run, "run.failed")
	ev.Stage = stage
	ev.Message = msg
	n.publish(ev)
}

func (n *WorkflowNotifier) RunQueued(run *domain.WorkflowRun) {
	n.publish(n.base(run, "run.queued"))
}
