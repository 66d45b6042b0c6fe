package resolution

import (
	"context"
	"strings"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

/*
NormalizeCollaborations resolves the record's collaborations against the
experiment catalog and links the matched experiments into
accelerator_experiments.

Collaborations that already carry a record link are left entirely alone.
For the rest the value has internal whitespace collapsed, then a direct
name match is tried; a unique hit sets the record link but keeps the
value as written. With no direct hit the value is tried as an experiment
subgroup; a unique subgroup hit links the parent experiment, again
keeping the written value. Ambiguity at either stage is logged with the
matched catalog names and the collaboration left unlinked.

Each uniquely matched experiment is appended to accelerator_experiments
exactly once, with its legacy name when present, regardless of how many
collaborations resolved to it.
*/
func NormalizeCollaborations(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, rec *domain.Record, log *logger.Logger) error {
	linked := map[string]bool{}
	for _, exp := range rec.AcceleratorExperiments {
		if exp.Record != nil {
			linked[exp.Record.Ref] = true
		}
	}

	for i := range rec.Collaborations {
		collab := &rec.Collaborations[i]
		if collab.Record != nil {
			continue
		}
		collab.Value = catalog.CollapseWhitespace(collab.Value)
		if collab.Value == "" {
			continue
		}

		cands, err := cache.FindCandidates(ctx, svc, catalog.KindExperiment, collab.Value)
		if err != nil {
			return err
		}
		if len(cands) > 1 {
			log.Warn("ambiguous match for collaboration "+collab.Value+". Matched collaborations: "+joinNames(cands), "collaboration", collab.Value)
			continue
		}
		if len(cands) == 1 {
			cand := cands[0]
			if cand.RefURL != "" {
				collab.Record = &domain.Ref{Ref: cand.RefURL}
			}
			appendExperiment(rec, linked, cand)
			continue
		}

		sub, err := cache.FindSubgroupCandidates(ctx, svc, collab.Value)
		if err != nil {
			return err
		}
		if len(sub) > 1 {
			log.Warn("ambiguous match for collaboration "+collab.Value+". Matches for collaboration subgroup: "+joinNames(sub), "collaboration", collab.Value)
			continue
		}
		if len(sub) == 1 {
			cand := sub[0]
			if cand.RefURL != "" {
				collab.Record = &domain.Ref{Ref: cand.RefURL}
			}
			appendExperiment(rec, linked, cand)
		}
	}
	return nil
}

func appendExperiment(rec *domain.Record, linked map[string]bool, cand catalog.Candidate) {
	if cand.RefURL == "" || linked[cand.RefURL] {
		return
	}
	linked[cand.RefURL] = true
	rec.AcceleratorExperiments = append(rec.AcceleratorExperiments, domain.AcceleratorExperiment{
		Record:     &domain.Ref{Ref: cand.RefURL},
		LegacyName: cand.LegacyName,
	})
}

func joinNames(cands []catalog.Candidate) string {
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, c.MatchedName)
	}
	return strings.Join(names, ", ")
}
