package workflows

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

type WorkflowRunRepo interface {
	Create(dbc dbctx.Context, runs []*domain.WorkflowRun) ([]*domain.WorkflowRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.WorkflowRun, error)
	// FindByRecordAndKind returns every instance for the pair regardless
	// of status; the duplicate-workflow guard relies on terminal
	// instances being included.
	FindByRecordAndKind(dbc dbctx.Context, recordID int64, kind string) ([]*domain.WorkflowRun, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.WorkflowRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type workflowRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRunRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowRunRepo {
	return &workflowRunRepo{
		db:  db,
		log: baseLog.With("repo", "WorkflowRunRepo"),
	}
}

func (r *workflowRunRepo) Create(dbc dbctx.Context, runs []*domain.WorkflowRun) ([]*domain.WorkflowRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*domain.WorkflowRun{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *workflowRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run domain.WorkflowRun
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *workflowRunRepo) FindByRecordAndKind(dbc dbctx.Context, recordID int64, kind string) ([]*domain.WorkflowRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.WorkflowRun
	if recordID == 0 || kind == "" {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("record_id = ? AND kind = ?", recordID, kind).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.WorkflowRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.WorkflowRun
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.WorkflowRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, domain.WorkflowStatusQueued, domain.WorkflowStatusFailed, maxAttempts, retryCutoff, domain.WorkflowStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.WorkflowRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       domain.WorkflowStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		run.Status = domain.WorkflowStatusRunning
		run.Attempts++
		run.LockedAt = &now
		run.HeartbeatAt = &now
		run.UpdatedAt = now
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *workflowRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.WorkflowRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *workflowRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&domain.WorkflowRun{}).
		Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *workflowRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	})
}
