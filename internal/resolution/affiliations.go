package resolution

import (
	"context"
	"strings"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

// LiteratureAuthorSource looks up curated authors from already-accepted
// literature whose raw affiliation text matches the given string. Used
// for identity transfer when a raw affiliation cannot be resolved
// directly against the institution catalog.
type LiteratureAuthorSource interface {
	FindMatchingAuthors(ctx context.Context, rawAffiliation string) ([]domain.Author, error)
}

/*
NormalizeAuthorAffiliations assigns linked affiliations to authors that
have raw affiliation strings but no resolved ones.

Each raw affiliation string is resolved at most once per run (results
are memoized in the match cache keyed by the raw text). Resolution
first tries the institution catalog directly; a unique hit becomes the
affiliation. Failing that it transfers identity from curated
literature: a matched curated author with exactly one raw affiliation
contributes all of their affiliations, while one with several
contributes only the affiliations whose text occurs inside the raw
string being resolved.

Authors that already carry affiliations are skipped. Assigned
affiliations are deduplicated by institution link; when nothing
resolves the author's affiliation field stays absent.
*/
func NormalizeAuthorAffiliations(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, src LiteratureAuthorSource, rec *domain.Record, log *logger.Logger) error {
	for i := range rec.Authors {
		author := &rec.Authors[i]
		if len(author.Affiliations) > 0 || len(author.RawAffiliations) == 0 {
			continue
		}
		var assigned []domain.Affiliation
		seen := map[string]bool{}
		for _, raw := range author.RawAffiliations {
			if raw.Value == "" {
				continue
			}
			affs, cached := cache.Affiliations(raw.Value)
			if !cached {
				var err error
				affs, err = resolveRawAffiliation(ctx, svc, cache, src, raw.Value)
				if err != nil {
					return err
				}
				cache.PutAffiliations(raw.Value, affs)
			}
			for _, aff := range affs {
				key := affiliationKey(aff)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				assigned = append(assigned, aff)
			}
		}
		if len(assigned) > 0 {
			author.Affiliations = assigned
			log.Info("assigned affiliations to author", "author", author.FullName, "count", len(assigned))
		}
	}
	return nil
}

func resolveRawAffiliation(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, src LiteratureAuthorSource, raw string) ([]domain.Affiliation, error) {
	cands, err := cache.FindCandidates(ctx, svc, catalog.KindInstitution, raw)
	if err != nil {
		return nil, err
	}
	if len(cands) == 1 {
		aff := domain.Affiliation{Value: cands[0].DisplayName}
		if cands[0].RefURL != "" {
			aff.Record = &domain.Ref{Ref: cands[0].RefURL}
		}
		return []domain.Affiliation{aff}, nil
	}

	if src == nil {
		return nil, nil
	}
	matched, err := src.FindMatchingAuthors(ctx, raw)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(raw)
	for _, m := range matched {
		if len(m.Affiliations) == 0 {
			continue
		}
		if len(m.RawAffiliations) == 1 {
			return m.Affiliations, nil
		}
		var subset []domain.Affiliation
		for _, aff := range m.Affiliations {
			if aff.Value != "" && strings.Contains(lowered, strings.ToLower(aff.Value)) {
				subset = append(subset, aff)
			}
		}
		if len(subset) > 0 {
			return subset, nil
		}
	}
	return nil, nil
}

func affiliationKey(aff domain.Affiliation) string {
	if aff.Record != nil && aff.Record.Ref != "" {
		return aff.Record.Ref
	}
	return strings.ToLower(aff.Value)
}

/*
LinkInstitutionsWithAffiliations upgrades text-only affiliations that
already exist on authors: any affiliation with a value but no record
link gets linked when the value resolves to exactly one institution.
The written value is preserved.
*/
func LinkInstitutionsWithAffiliations(ctx context.Context, svc catalog.Service, cache *runtime.MatchCache, rec *domain.Record, log *logger.Logger) error {
	for i := range rec.Authors {
		author := &rec.Authors[i]
		for j := range author.Affiliations {
			aff := &author.Affiliations[j]
			if aff.Value == "" || aff.Record != nil {
				continue
			}
			cands, err := cache.FindCandidates(ctx, svc, catalog.KindInstitution, aff.Value)
			if err != nil {
				return err
			}
			if len(cands) != 1 {
				continue
			}
			if cands[0].RefURL != "" {
				aff.Record = &domain.Ref{Ref: cands[0].RefURL}
			}
		}
	}
	return nil
}
