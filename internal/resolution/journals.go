// Package resolution implements record enrichment against the canonical
// entity catalog: journal title normalization, collaboration and
// subgroup matching, and author affiliation resolution. All lookups go
// through a per-run match cache so repeated strings hit the catalog
// once.
package resolution

import (
	"context"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

/*
NormalizeJournalTitles resolves every journal title in the record's
publication_info and in its references against the journal catalog.

A lookup that yields exactly one candidate overwrites the stored title
with the canonical short form and sets journal_record, even when the
entry is otherwise malformed. Zero or multiple candidates leave the
entry untouched. Category terms are collected only from top-level
publication_info matches, never from references, and are returned for
the caller to merge into its working category set; the record's own
category field is not modified here.
*/
func NormalizeJournalTitles(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, rec *domain.Record, log *logger.Logger) ([]string, error) {
	var terms []string

	for i := range rec.PublicationInfo {
		pub := &rec.PublicationInfo[i]
		if pub.JournalTitle == "" {
			continue
		}
		cand, err := uniqueJournal(ctx, svc, cache, pub.JournalTitle, log)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			continue
		}
		pub.JournalTitle = cand.DisplayName
		if cand.RefURL != "" {
			pub.JournalRecord = &domain.Ref{Ref: cand.RefURL}
		}
		terms = append(terms, cand.Categories...)
	}

	for _, ref := range rec.References {
		if ref.Reference == nil || ref.Reference.PublicationInfo == nil {
			continue
		}
		pub := ref.Reference.PublicationInfo
		if pub.JournalTitle == "" {
			continue
		}
		cand, err := uniqueJournal(ctx, svc, cache, pub.JournalTitle, log)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			continue
		}
		pub.JournalTitle = cand.DisplayName
		if cand.RefURL != "" {
			pub.JournalRecord = &domain.Ref{Ref: cand.RefURL}
		}
	}

	return dedupTerms(terms), nil
}

func uniqueJournal(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, title string, log *logger.Logger) (*catalog.Candidate, error) {
	cands, err := cache.FindCandidates(ctx, svc, catalog.KindJournal, title)
	if err != nil {
		return nil, err
	}
	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		c := cands[0]
		return &c, nil
	default:
		names := make([]string, 0, len(cands))
		for _, c := range cands {
			names = append(names, c.DisplayName)
		}
		log.Warn("ambiguous journal title match", "title", title, "matches", names)
		return nil, nil
	}
}

func dedupTerms(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := terms[:0]
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
