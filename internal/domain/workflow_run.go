package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	WorkflowStatusQueued    = "queued"
	WorkflowStatusRunning   = "running"
	WorkflowStatusHalted    = "halted"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
	WorkflowStatusCanceled  = "canceled"
)

const (
	WorkflowKindArticle       = "article"
	WorkflowKindCoreSelection = "core_selection"
)

// WorkflowRun is one holdingpen pipeline instance over a record.
// Data holds the record document, ExtraData the execution context;
// NextStep is the index the engine resumes from after a halt.
type WorkflowRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RecordID    int64          `gorm:"column:record_id;index" json:"record_id,omitempty"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;not null" json:"stage"`
	NextStep    int            `gorm:"column:next_step;not null;default:0" json:"next_step"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Message     string         `gorm:"column:message" json:"message,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	Data        datatypes.JSON `gorm:"column:data;type:jsonb" json:"data"`
	ExtraData   datatypes.JSON `gorm:"column:extra_data;type:jsonb" json:"extra_data"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (WorkflowRun) TableName() string { return "workflow_run" }

// IsTerminal reports whether no further steps will run for this instance.
func (w *WorkflowRun) IsTerminal() bool {
	switch w.Status {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCanceled:
		return true
	}
	return false
}

// PendingRecord marks a workflow whose record was shipped to legacy and
// is awaiting the batch uploader to materialize it there.
type PendingRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkflowID uuid.UUID `gorm:"type:uuid;not null;index" json:"workflow_id"`
	RecordID   int64     `gorm:"column:record_id;index" json:"record_id,omitempty"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (PendingRecord) TableName() string { return "workflow_pending_record" }
