package catalog

import (
	"context"
	"encoding/json"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

// Service answers free-text candidate queries against the canonical
// catalog. Read-only; concurrent use requires no locking.
type Service interface {
	FindCandidates(ctx context.Context, kind Kind, text string) ([]Candidate, error)
	FindSubgroupCandidates(ctx context.Context, text string) ([]Candidate, error)
}

// indexService serves lookups from a prebuilt in-memory index.
type indexService struct {
	idx *Index
}

// NewIndexService wraps an entity set in a Service. Used directly in
// tests and by the DB-backed loader below.
func NewIndexService(entities []Entity) Service {
	return &indexService{idx: NewIndex(entities)}
}

func (s *indexService) FindCandidates(_ context.Context, kind Kind, text string) ([]Candidate, error) {
	return s.idx.Match(kind, text), nil
}

func (s *indexService) FindSubgroupCandidates(_ context.Context, text string) ([]Candidate, error) {
	return s.idx.MatchSubgroups(text), nil
}

// EntityRepo is the slice of the catalog repo the loader needs.
type EntityRepo interface {
	ListAll(dbc dbctx.Context) ([]*domain.CanonicalEntity, error)
}

// LoadService reads the full canonical_entity replica once and builds
// the in-memory index. The replica is refreshed out of band; a process
// sees one consistent snapshot for its lifetime.
func LoadService(ctx context.Context, repo EntityRepo, baseLog *logger.Logger) (Service, error) {
	rows, err := repo.ListAll(dbctx.Context{Ctx: ctx})
	if err != nil {
		return nil, err
	}
	entities := make([]Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, Entity{
			ID:          row.ID.String(),
			Kind:        Kind(row.EntityKind),
			DisplayName: row.CanonicalName,
			RefURL:      row.RefURL,
			LegacyName:  row.LegacyName,
			Variants:    decodeStrings(row.NameVariants),
			Subgroups:   decodeStrings(row.Subgroups),
			Categories:  decodeStrings(row.CategoryTags),
		})
	}
	if baseLog != nil {
		baseLog.Info("Catalog index built", "entities", len(entities))
	}
	return NewIndexService(entities), nil
}

func decodeStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
