package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/gate"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// ResolveInput is a reviewer's decision on a pending approval
type ResolveInput struct {
	ApprovalID int64           `json:"approval_id"`
	Decision   entity.Decision `json:"decision"`
	Comment    string          `json:"comment"`
	ReviewerID string          `json:"reviewer_id"`
}

// ApprovalCycle opens and resolves approval records and drives the task
// state machine as a side effect
type ApprovalCycle interface {
	// Open creates the pending approval for a task submission
	Open(ctx context.Context, taskID, submittedVersionID int64) (*entity.ApprovalRecord, error)

	// Resolve closes a pending approval. Approval completes the task and
	// unlocks its successor; rejection reopens the task in a new cycle.
	Resolve(ctx context.Context, in ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error)

	// History returns the task's approval records oldest first
	History(ctx context.Context, taskID int64) ([]*entity.ApprovalRecord, error)
}

type approvalCycleImpl struct {
	taskRepo     port.TaskRepository
	approvalRepo port.ApprovalRepository
	versionRepo  port.VersionRepository
	phases       phaseTracker
	uow          unitOfWork
	logger       Logger
	now          func() time.Time
}

// NewApprovalCycle creates a new ApprovalCycle
func NewApprovalCycle(
	deliverableRepo port.DeliverableRepository,
	taskRepo port.TaskRepository,
	approvalRepo port.ApprovalRepository,
	versionRepo port.VersionRepository,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
) ApprovalCycle {
	return &approvalCycleImpl{
		taskRepo:     taskRepo,
		approvalRepo: approvalRepo,
		versionRepo:  versionRepo,
		phases:       phaseTracker{deliverables: deliverableRepo, tasks: taskRepo},
		uow:          unitOfWork{txManager: txManager, publisher: publisher, logger: logger},
		logger:       logger,
		now:          time.Now,
	}
}

func (c *approvalCycleImpl) Open(ctx context.Context, taskID, submittedVersionID int64) (*entity.ApprovalRecord, error) {
	const op = "open approval"

	var approval *entity.ApprovalRecord
	err := c.uow.run(ctx, func(txCtx context.Context) error {
		task, err := loadTask(txCtx, c.taskRepo, op, taskID)
		if err != nil {
			return err
		}

		version, err := c.versionRepo.GetByID(txCtx, submittedVersionID)
		if err != nil {
			return err
		}
		if version == nil || version.TaskID != task.ID {
			return apperror.NotFound(op, "version %d not found for task %d", submittedVersionID, task.ID)
		}

		pending, err := c.approvalRepo.GetPendingByTaskID(txCtx, task.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return apperror.Conflict(op, "task %d already has pending approval %d", task.ID, pending.ID)
		}

		approval = &entity.ApprovalRecord{
			TaskID:             task.ID,
			SubmittedVersionID: version.ID,
			Cycle:              task.Cycle,
			Status:             entity.ApprovalStatusPending,
		}
		// the unique index catches a racing opener the read above missed
		if err := c.approvalRepo.Create(txCtx, approval); err != nil {
			return err
		}
		if err := c.taskRepo.SetLinkedApproval(txCtx, task.ID, approval.ID); err != nil {
			return err
		}

		payload := taskPayload(task)
		payload[event.KeyApprovalID] = approval.ID
		payload[event.KeyVersionID] = version.ID
		emit(txCtx, event.NewEvent(event.TypeApprovalOpened, task.DeliverableID, payload))
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to open approval", "error", err, "task_id", taskID)
		return nil, err
	}

	c.logger.Info("Approval opened", "id", approval.ID, "task_id", taskID, "cycle", approval.Cycle)
	return approval, nil
}

func (c *approvalCycleImpl) Resolve(ctx context.Context, in ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error) {
	const op = "resolve approval"

	if !in.Decision.IsValid() {
		return nil, nil, apperror.Validation(op, "decision must be %s or %s", entity.DecisionApprove, entity.DecisionReject)
	}

	// Read and validate before opening the write transaction so that a
	// request that can never succeed does not queue behind other writers.
	approval, err := c.approvalRepo.GetByID(ctx, in.ApprovalID)
	if err != nil {
		return nil, nil, err
	}
	if approval == nil || !approval.IsPending() {
		return nil, nil, apperror.NotFound(op, "no pending approval with id %d", in.ApprovalID)
	}

	task, err := loadTask(ctx, c.taskRepo, op, approval.TaskID)
	if err != nil {
		return nil, nil, err
	}

	trigger := workflow.TriggerApprove
	if in.Decision == entity.DecisionReject {
		trigger = workflow.TriggerReject
	}
	machine := workflow.BuildTaskStateMachine(task.Status, workflow.TaskGuards{Comment: in.Comment})
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, nil, err
	}

	decidedAt := c.now().UTC()
	err = c.uow.run(ctx, func(txCtx context.Context) error {
		if err := c.resolveInTx(txCtx, task, approval, machine, in, decidedAt); err != nil {
			return err
		}
		phaseEvt, err := c.phases.recompute(txCtx, task.DeliverableID)
		if err != nil {
			return err
		}
		if phaseEvt != nil {
			emit(txCtx, phaseEvt)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to resolve approval", "error", err, "approval_id", in.ApprovalID, "decision", in.Decision)
		return nil, nil, err
	}

	updatedTask, err := loadTask(ctx, c.taskRepo, op, task.ID)
	if err != nil {
		return nil, nil, err
	}
	updatedApproval, err := c.approvalRepo.GetByID(ctx, approval.ID)
	if err != nil {
		return nil, nil, err
	}

	c.logger.Info("Approval resolved",
		"id", approval.ID,
		"task_id", task.ID,
		"decision", in.Decision,
		"task_status", updatedTask.Status,
	)
	return updatedTask, updatedApproval, nil
}

// resolveInTx persists a decision the state machine has already accepted.
// Every write is a compare-and-swap against the snapshot read by Resolve.
func (c *approvalCycleImpl) resolveInTx(
	ctx context.Context,
	task *entity.TaskInstance,
	approval *entity.ApprovalRecord,
	machine workflow.StateMachine,
	in ResolveInput,
	decidedAt time.Time,
) error {
	status := entity.ApprovalStatusApproved
	if in.Decision == entity.DecisionReject {
		status = entity.ApprovalStatusRejected
	}

	if err := c.approvalRepo.Resolve(ctx, approval.ID, status, in.Comment, in.ReviewerID, decidedAt); err != nil {
		return err
	}
	if err := c.taskRepo.UpdateStatus(ctx, task.ID, task.Cycle, task.Status, machine.State()); err != nil {
		return err
	}

	payload := taskPayload(task)
	payload[event.KeyApprovalID] = approval.ID
	payload[event.KeyDecision] = string(in.Decision)
	payload[event.KeyComment] = in.Comment
	payload[event.KeyReviewerID] = in.ReviewerID
	emit(ctx, event.NewEvent(event.TypeApprovalResolved, task.DeliverableID, payload))

	if in.Decision == entity.DecisionApprove {
		if err := c.taskRepo.SetCompleted(ctx, task.ID, decidedAt); err != nil {
			return err
		}
		return c.unlockSuccessor(ctx, task)
	}

	// a rejected task goes straight back to work in a fresh cycle
	if err := machine.Fire(ctx, workflow.TriggerReopen); err != nil {
		return err
	}
	if err := c.taskRepo.Reopen(ctx, task.ID, task.Cycle); err != nil {
		return err
	}

	reopened := task.Clone()
	reopened.Cycle = task.Cycle + 1
	emit(ctx, event.NewEvent(event.TypeTaskReopened, task.DeliverableID, taskPayload(reopened)))
	return nil
}

// unlockSuccessor fires UNLOCK on the task after an approved one
func (c *approvalCycleImpl) unlockSuccessor(ctx context.Context, approved *entity.TaskInstance) error {
	tasks, err := c.taskRepo.GetByDeliverableID(ctx, approved.DeliverableID)
	if err != nil {
		return err
	}
	next, err := gate.Successor(tasks, approved.Order)
	if err != nil {
		c.logger.Error("Workflow configuration is inconsistent", "error", err, "deliverable_id", approved.DeliverableID)
		return err
	}
	if next == nil {
		return nil
	}

	return unlockTask(ctx, c.taskRepo, next)
}

// unlockTask moves a pending task to IN_PROGRESS and emits task.unlocked.
// A task that has already left PENDING is left alone.
func unlockTask(ctx context.Context, repo port.TaskRepository, task *entity.TaskInstance) error {
	machine := workflow.BuildTaskStateMachine(task.Status, workflow.TaskGuards{})
	if !machine.CanFire(workflow.TriggerUnlock) {
		return nil
	}
	if err := machine.Fire(ctx, workflow.TriggerUnlock); err != nil {
		return err
	}
	if err := repo.UpdateStatus(ctx, task.ID, task.Cycle, task.Status, machine.State()); err != nil {
		return fmt.Errorf("unlock task %d: %w", task.ID, err)
	}
	emit(ctx, event.NewEvent(event.TypeTaskUnlocked, task.DeliverableID, taskPayload(task)))
	return nil
}

func (c *approvalCycleImpl) History(ctx context.Context, taskID int64) ([]*entity.ApprovalRecord, error) {
	if _, err := loadTask(ctx, c.taskRepo, "approval history", taskID); err != nil {
		return nil, err
	}
	records, err := c.approvalRepo.ListByTaskID(ctx, taskID)
	if err != nil {
		c.logger.Error("Failed to get approval history", "error", err, "task_id", taskID)
		return nil, err
	}
	if records == nil {
		records = []*entity.ApprovalRecord{}
	}
	return records, nil
}
