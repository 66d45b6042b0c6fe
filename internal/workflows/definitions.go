// Package workflows assembles the step pipelines for each workflow kind
// and runs them: either from the database claim loop or from the
// Temporal activity, both of which funnel into the same Executor.
package workflows

import (
	"time"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/steps"
)

// Ticketing and legacy uploads ride flaky services; retry with
// exponential backoff from 4s, five attempts total.
const (
	externalRetryTries = 5
	externalRetryBase  = 4 * time.Second
)

// Pipelines maps workflow kind to its step list.
type Pipelines map[string]*engine.Pipeline

/*
BuildPipelines wires every workflow kind. Resolution steps run bare;
steps that talk to external services are wrapped with the retry
middleware, so a transient outage never fails a run outright.
*/
func BuildPipelines(env *steps.Env, baseLog *logger.Logger) Pipelines {
	retry := engine.WithRetry(externalRetryTries, externalRetryBase)

	article := []engine.Step{
		steps.LoadFromSourceData(env),
		steps.NormalizeJournalTitles(env),
		steps.NormalizeCollaborations(env),
		steps.NormalizeAuthorAffiliations(env),
		steps.LinkInstitutionsWithAffiliations(env),
		steps.UpdateInspireCategories(env),
		steps.FilterKeywords(env),
		steps.PrepareKeywords(env),
		steps.ReplaceCollectionToHidden(env),
		engine.Wrap(steps.CreateTicket(env, "HEP_curation", "New document for curation"), retry),
		engine.Wrap(steps.SendToLegacy(env), retry),
		steps.WaitWebcoll(env),
		steps.CreateCoreSelectionWf(env),
		engine.Wrap(steps.CloseTicket(env), retry),
		steps.CleanupPendingWorkflow(env),
	}

	// Core-selection runs are created halted; the curator's resume
	// carries the decision reason, which the reply step records on the
	// ticket before it is closed.
	coreSelection := []engine.Step{
		engine.Wrap(steps.CreateTicket(env, "HEP_core_selection", "Core selection decision"), retry),
		engine.Wrap(steps.ReplyTicket(env, "", false), retry),
		engine.Wrap(steps.CloseTicket(env), retry),
		steps.CleanupPendingWorkflow(env),
	}

	return Pipelines{
		domain.WorkflowKindArticle:       engine.NewPipeline(domain.WorkflowKindArticle, baseLog, article, engine.WithLogging(baseLog)),
		domain.WorkflowKindCoreSelection: engine.NewPipeline(domain.WorkflowKindCoreSelection, baseLog, coreSelection, engine.WithLogging(baseLog)),
	}
}
