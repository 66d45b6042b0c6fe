package workflows

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

type PendingRecordRepo interface {
	Create(dbc dbctx.Context, rec *domain.PendingRecord) (*domain.PendingRecord, error)
	GetByWorkflowID(dbc dbctx.Context, workflowID uuid.UUID) (*domain.PendingRecord, error)
	DeleteByWorkflowID(dbc dbctx.Context, workflowID uuid.UUID) error
}

type pendingRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPendingRecordRepo(db *gorm.DB, baseLog *logger.Logger) PendingRecordRepo {
	return &pendingRecordRepo{
		db:  db,
		log: baseLog.With("repo", "PendingRecordRepo"),
	}
}

func (r *pendingRecordRepo) Create(dbc dbctx.Context, rec *domain.PendingRecord) (*domain.PendingRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *pendingRecordRepo) GetByWorkflowID(dbc dbctx.Context, workflowID uuid.UUID) (*domain.PendingRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if workflowID == uuid.Nil {
		return nil, nil
	}
	var rec domain.PendingRecord
	err := transaction.WithContext(dbc.Ctx).
		Where("workflow_id = ?", workflowID).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *pendingRecordRepo) DeleteByWorkflowID(dbc dbctx.Context, workflowID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if workflowID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("workflow_id = ?", workflowID).
		Delete(&domain.PendingRecord{}).Error
}
