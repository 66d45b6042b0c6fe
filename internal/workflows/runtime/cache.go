package runtime

import (
	"context"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/domain"
)

// MatchCache memoizes catalog lookups for the lifetime of one run. It is
// owned by the execution context, never shared across instances, and
// discarded at run end, so it needs no synchronization.
type MatchCache struct {
	lookups      map[string][]catalog.Candidate
	affiliations map[string][]domain.Affiliation
}

func NewMatchCache() *MatchCache {
	return &MatchCache{
		lookups:      map[string][]catalog.Candidate{},
		affiliations: map[string][]domain.Affiliation{},
	}
}

func cacheKey(kind catalog.Kind, text string) string {
	return string(kind) + "\x00" + catalog.Normalize(text)
}

// FindCandidates serves repeated lookups of the same raw text from the
// cache; the catalog is consulted exactly once per distinct text.
func (c *MatchCache) FindCandidates(ctx context.Context, svc catalog.Service, kind catalog.Kind, text string) ([]catalog.Candidate, error) {
	key := cacheKey(kind, text)
	if hit, ok := c.lookups[key]; ok {
		return hit, nil
	}
	cands, err := svc.FindCandidates(ctx, kind, text)
	if err != nil {
		return nil, err
	}
	c.lookups[key] = cands
	return cands, nil
}

func (c *MatchCache) FindSubgroupCandidates(ctx context.Context, svc catalog.Service, text string) ([]catalog.Candidate, error) {
	key := "subgroup\x00" + catalog.Normalize(text)
	if hit, ok := c.lookups[key]; ok {
		return hit, nil
	}
	cands, err := svc.FindSubgroupCandidates(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lookups[key] = cands
	return cands, nil
}

// Affiliations memoizes the fully resolved affiliation set for a raw
// affiliation string, so two authors sharing the same raw text get the
// same assignment from a single resolution.
func (c *MatchCache) Affiliations(rawText string) ([]domain.Affiliation, bool) {
	affs, ok := c.affiliations[catalog.Normalize(rawText)]
	return affs, ok
}

func (c *MatchCache) PutAffiliations(rawText string, affs []domain.Affiliation) {
	c.affiliations[catalog.Normalize(rawText)] = affs
}
