package steps

import (
	"encoding/json"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/resolution"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

/*
LoadFromSourceData replaces the in-flight record with the pristine
harvested payload stored in the execution context. Runs restarted from
the beginning go through this step so edits from the aborted pass are
discarded. A run without source data cannot be restarted and fails with
a data error.
*/
func LoadFromSourceData(env *Env) engine.Step {
	return engine.Step{
		Name: "load_from_source_data",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			src, ok := rc.Extra()[runtime.KeySourceData]
			if !ok || src == nil {
				return runtime.Fail(wferr.Data(runtime.KeySourceData, "workflow has no source data and cannot be restarted"))
			}
			raw, err := json.Marshal(src)
			if err != nil {
				return runtime.Fail(wferr.Permanent("load_from_source_data", err))
			}
			fresh := domain.Record{}
			if err := json.Unmarshal(raw, &fresh); err != nil {
				return runtime.Fail(wferr.Permanent("load_from_source_data", err))
			}
			*rec = fresh
			env.Log.Info("Loaded record from source data", "run_id", rc.Run.ID, "control_number", rec.ControlNumber)
			return runtime.Continue()
		},
	}
}

// NormalizeJournalTitles resolves journal titles in publication_info
// and references, collecting category terms into the run's working set.
func NormalizeJournalTitles(env *Env) engine.Step {
	return engine.Step{
		Name: "normalize_journal_titles",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			terms, err := resolution.NormalizeJournalTitles(rc.Ctx, env.Catalog, rc.Matches, rec, env.Log)
			if err != nil {
				return runtime.Fail(err)
			}
			rc.AddWorkingCategories(terms)
			return runtime.Continue()
		},
	}
}

func NormalizeCollaborations(env *Env) engine.Step {
	return engine.Step{
		Name: "normalize_collaborations",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if err := resolution.NormalizeCollaborations(rc.Ctx, env.Catalog, rc.Matches, rec, env.Log); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Continue()
		},
	}
}

func NormalizeAuthorAffiliations(env *Env) engine.Step {
	return engine.Step{
		Name: "normalize_author_affiliations",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if err := resolution.NormalizeAuthorAffiliations(rc.Ctx, env.Catalog, rc.Matches, env.Literature, rec, env.Log); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Continue()
		},
	}
}

func LinkInstitutionsWithAffiliations(env *Env) engine.Step {
	return engine.Step{
		Name: "link_institutions_with_affiliations",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if err := resolution.LinkInstitutionsWithAffiliations(rc.Ctx, env.Catalog, rc.Matches, rec, env.Log); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Continue()
		},
	}
}

/*
UpdateInspireCategories copies the working category set onto the record,
but only when the record arrived without categories of its own.
Author-supplied categories always win over derived ones.
*/
func UpdateInspireCategories(env *Env) engine.Step {
	return engine.Step{
		Name: "update_inspire_categories",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if len(rec.InspireCategories) > 0 {
				return runtime.Continue()
			}
			derived := rc.WorkingCategories()
			if len(derived) == 0 {
				return runtime.Continue()
			}
			rec.InspireCategories = derived
			env.Log.Info("Derived categories applied", "run_id", rc.Run.ID, "count", len(derived))
			return runtime.Continue()
		},
	}
}

/*
ReplaceCollectionToHidden reroutes records whose authors carry raw
affiliations from embargoed institutions into the matching hidden
collections, replacing the default collection with the union of the
matched ones. Records with no matching affiliation pass through
untouched.
*/
func ReplaceCollectionToHidden(env *Env) engine.Step {
	return engine.Step{
		Name: "replace_collection_to_hidden",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			var hidden []string
			seen := map[string]bool{}
			for _, author := range rec.Authors {
				for _, raw := range author.RawAffiliations {
					col := env.Hidden.CollectionFor(raw.Value)
					if col != "" && !seen[col] {
						seen[col] = true
						hidden = append(hidden, col)
					}
				}
			}
			if len(hidden) == 0 {
				return runtime.Continue()
			}
			rec.Collections = hidden
			env.Log.Info("Record routed to hidden collections", "run_id", rc.Run.ID, "collections", hidden)
			return runtime.Continue()
		},
	}
}
