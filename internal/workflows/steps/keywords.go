package steps

import (
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

type keywordPrediction struct {
	Label  string
	Score  float64
	Accept bool
}

func decodePredictions(v any) []keywordPrediction {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]keywordPrediction, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := keywordPrediction{}
		if s, ok := m["label"].(string); ok {
			p.Label = s
		}
		if f, ok := m["score"].(float64); ok {
			p.Score = f
		}
		if b, ok := m["accept"].(bool); ok {
			p.Accept = b
		}
		if p.Label != "" {
			out = append(out, p)
		}
	}
	return out
}

/*
FilterKeywords prunes the classifier's keyword predictions down to the
accepted ones. The surviving predictions replace the original list in
the execution context; the record itself is not touched.
*/
func FilterKeywords(env *Env) engine.Step {
	return engine.Step{
		Name: "filter_keywords",
		Run: func(_ *domain.Record, rc *runtime.Context) runtime.Signal {
			preds := decodePredictions(rc.Extra()[runtime.KeyKeywordsPrediction])
			if len(preds) == 0 {
				env.Log.Debug("Got no prediction for keywords", "run_id", rc.Run.ID)
				return runtime.Continue()
			}
			kept := make([]any, 0, len(preds))
			for _, p := range preds {
				if !p.Accept {
					continue
				}
				kept = append(kept, map[string]any{"label": p.Label, "score": p.Score, "accept": p.Accept})
			}
			rc.SetExtra(runtime.KeyKeywordsPrediction, kept)
			env.Log.Debug("Keyword predictions filtered", "run_id", rc.Run.ID, "kept", len(kept), "of", len(preds))
			return runtime.Continue()
		},
	}
}

/*
PrepareKeywords rewrites a core record's keywords for shipping: prior
classifier-sourced keywords are purged and the extracted keywords
appended in their place, marked with the classifier source. An
INSPIRE-schema keyword with no source is curator work; when one exists
the record's keywords are left entirely alone. Non-core records are
never touched.
*/
func PrepareKeywords(env *Env) engine.Step {
	return engine.Step{
		Name: "prepare_keywords",
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			if !rec.Core {
				return runtime.Continue()
			}
			for _, kw := range rec.Keywords {
				if kw.Schema == "INSPIRE" && kw.Source == "" {
					env.Log.Debug("Curated keywords present, skipping keyword preparation", "run_id", rc.Run.ID)
					return runtime.Continue()
				}
			}
			kept := make([]domain.Keyword, 0, len(rec.Keywords))
			for _, kw := range rec.Keywords {
				if kw.Schema == "INSPIRE" && kw.Source == "classifier" {
					continue
				}
				kept = append(kept, kw)
			}
			if extracted, ok := rc.Extra()[runtime.KeyExtractedKeywords].([]any); ok {
				for _, v := range extracted {
					if s, ok := v.(string); ok && s != "" {
						kept = append(kept, domain.Keyword{Value: s, Schema: "INSPIRE", Source: "classifier"})
					}
				}
			}
			if len(kept) > 0 {
				rec.Keywords = kept
			}
			return runtime.Continue()
		},
	}
}
