package wfrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/temporalx"
)

// Starter launches and signals run workflows. It satisfies the
// registry's RunSignaler so run creation and resumption reach Temporal
// without the services layer knowing about it.
type Starter struct {
	tc  temporalsdkclient.Client
	cfg temporalx.Config
	log *logger.Logger
}

func NewStarter(tc temporalsdkclient.Client, baseLog *logger.Logger) *Starter {
	return &Starter{
		tc:  tc,
		cfg: temporalx.LoadConfig(),
		log: baseLog.With("component", "WfrunStarter"),
	}
}

// StartRun launches the orchestrating workflow for a run. The workflow
// ID is the run UUID, so a duplicate start of the same run collides
// with the live execution instead of spawning a second one.
func (s *Starter) StartRun(ctx context.Context, runID uuid.UUID) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal not configured")
	}
	_, err := s.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                       runID.String(),
		TaskQueue:                s.cfg.TaskQueue,
		WorkflowExecutionTimeout: 0,
	}, WorkflowName)
	if err != nil {
		return fmt.Errorf("start run workflow: %w", err)
	}
	s.log.Debug("Run workflow started", "run_id", runID)
	return nil
}

// SignalResume wakes the parked workflow after a halted run went back
// to queued.
func (s *Starter) SignalResume(ctx context.Context, runID uuid.UUID) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal not configured")
	}
	if err := s.tc.SignalWorkflow(ctx, runID.String(), "", SignalResume, nil); err != nil {
		return fmt.Errorf("signal resume: %w", err)
	}
	return nil
}
