package catalog

import (
	"gorm.io/gorm"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

type CanonicalEntityRepo interface {
	Create(dbc dbctx.Context, entities []*domain.CanonicalEntity) ([]*domain.CanonicalEntity, error)
	ListAll(dbc dbctx.Context) ([]*domain.CanonicalEntity, error)
	ListByKind(dbc dbctx.Context, kind string) ([]*domain.CanonicalEntity, error)
}

type canonicalEntityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCanonicalEntityRepo(db *gorm.DB, baseLog *logger.Logger) CanonicalEntityRepo {
	return &canonicalEntityRepo{
		db:  db,
		log: baseLog.With("repo", "CanonicalEntityRepo"),
	}
}

func (r *canonicalEntityRepo) Create(dbc dbctx.Context, entities []*domain.CanonicalEntity) ([]*domain.CanonicalEntity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entities) == 0 {
		return []*domain.CanonicalEntity{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *canonicalEntityRepo) ListAll(dbc dbctx.Context) ([]*domain.CanonicalEntity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.CanonicalEntity
	if err := transaction.WithContext(dbc.Ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *canonicalEntityRepo) ListByKind(dbc dbctx.Context, kind string) ([]*domain.CanonicalEntity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.CanonicalEntity
	if kind == "" {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("entity_kind = ?", kind).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
