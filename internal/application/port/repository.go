package port

import (
	"context"
	"time"

	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// Lookups return (nil, nil) when the row does not exist; services turn that
// into a not-found error with the context they have.

// WorkflowRepository defines persistence operations for WorkflowDefinition
type WorkflowRepository interface {
	// Create inserts the definition and its task templates
	Create(ctx context.Context, def *entity.WorkflowDefinition) error

	// GetByID retrieves a definition with templates ordered by position
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)

	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
}

// DeliverableRepository defines persistence operations for Deliverable
type DeliverableRepository interface {
	Create(ctx context.Context, d *entity.Deliverable) error
	GetByID(ctx context.Context, id int64) (*entity.Deliverable, error)
	UpdatePhase(ctx context.Context, id int64, phase entity.Phase) error
	List(ctx context.Context, limit, offset int) ([]*entity.Deliverable, error)

	// ListOpenWithDeadline returns unpublished deliverables that have a
	// deadline, earliest deadline first
	ListOpenWithDeadline(ctx context.Context) ([]*entity.Deliverable, error)
}

// TaskRepository defines persistence operations for TaskInstance.
// Status changes are compare-and-swap: they fail with a conflict error when
// the stored status is not the expected one.
type TaskRepository interface {
	Create(ctx context.Context, task *entity.TaskInstance) error
	GetByID(ctx context.Context, id int64) (*entity.TaskInstance, error)

	// GetByDeliverableID returns the deliverable's tasks ordered by position
	GetByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error)

	// UpdateStatus moves a task from one status to another within a cycle
	UpdateStatus(ctx context.Context, id int64, cycle int, from, to workflow.State) error

	// Reopen moves a REJECTED task back to IN_PROGRESS and starts a new cycle
	Reopen(ctx context.Context, id int64, cycle int) error

	SetLinkedApproval(ctx context.Context, id int64, approvalID int64) error
	SetCompleted(ctx context.Context, id int64, t time.Time) error
}

// VersionRepository defines persistence operations for VersionRecord
type VersionRepository interface {
	Create(ctx context.Context, v *entity.VersionRecord) error
	GetByID(ctx context.Context, id int64) (*entity.VersionRecord, error)

	// ListByDeliverableID returns versions oldest first
	ListByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.VersionRecord, error)

	// ListFinal returns the final versions of a task cycle
	ListFinal(ctx context.Context, taskID int64, cycle int) ([]*entity.VersionRecord, error)

	// MarkFinal flags a version as final; a second final version in the same
	// task cycle is rejected by the store with a conflict error
	MarkFinal(ctx context.Context, id int64) error
}

// ApprovalRepository defines persistence operations for ApprovalRecord
type ApprovalRepository interface {
	// Create inserts a pending record; a second pending record for the same
	// task is rejected by the store with a conflict error
	Create(ctx context.Context, a *entity.ApprovalRecord) error

	GetByID(ctx context.Context, id int64) (*entity.ApprovalRecord, error)
	GetPendingByTaskID(ctx context.Context, taskID int64) (*entity.ApprovalRecord, error)

	// ListByTaskID returns the task's approval chain oldest first
	ListByTaskID(ctx context.Context, taskID int64) ([]*entity.ApprovalRecord, error)

	// ListByDeliverableID returns every approval of the deliverable's tasks oldest first
	ListByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.ApprovalRecord, error)

	// Resolve closes a pending record; a record that is no longer pending
	// yields a conflict error
	Resolve(ctx context.Context, id int64, status entity.ApprovalStatus, comment, reviewerID string, decidedAt time.Time) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
