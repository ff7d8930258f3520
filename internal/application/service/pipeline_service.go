package service

import (
	"context"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/gate"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// PipelineService is the facade for the user-facing pipeline operations
type PipelineService interface {
	// SubmitForApproval sends an in-progress task with a final version to review
	SubmitForApproval(ctx context.Context, taskID int64) (*entity.TaskInstance, *entity.ApprovalRecord, error)

	// Resolve applies a reviewer decision to a pending approval
	Resolve(ctx context.Context, in ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error)

	// GetUnlockedTasks returns the deliverable's workable tasks in order
	GetUnlockedTasks(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error)

	// Publish moves a deliverable whose tasks are all approved to PUBLISHED
	Publish(ctx context.Context, deliverableID int64) (*entity.Deliverable, error)
}

type pipelineServiceImpl struct {
	deliverableRepo port.DeliverableRepository
	taskRepo        port.TaskRepository
	versions        VersionService
	cycle           ApprovalCycle
	phases          phaseTracker
	uow             unitOfWork
	logger          Logger
}

// NewPipelineService creates a new PipelineService
func NewPipelineService(
	deliverableRepo port.DeliverableRepository,
	taskRepo port.TaskRepository,
	versions VersionService,
	cycle ApprovalCycle,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
) PipelineService {
	return &pipelineServiceImpl{
		deliverableRepo: deliverableRepo,
		taskRepo:        taskRepo,
		versions:        versions,
		cycle:           cycle,
		phases:          phaseTracker{deliverables: deliverableRepo, tasks: taskRepo},
		uow:             unitOfWork{txManager: txManager, publisher: publisher, logger: logger},
		logger:          logger,
	}
}

// SubmitForApproval checks the task against a snapshot read outside the
// write transaction, then commits with a compare-and-swap on that snapshot.
// Re-submitting a task already under review fails the state check; a
// concurrent submitter that read the same snapshot loses the swap and gets a
// conflict.
func (s *pipelineServiceImpl) SubmitForApproval(ctx context.Context, taskID int64) (*entity.TaskInstance, *entity.ApprovalRecord, error) {
	const op = "submit for approval"

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, nil, err
	}

	machine := workflow.BuildTaskStateMachine(task.Status, workflow.TaskGuards{
		HasFinalVersion: func(ctx context.Context) (bool, error) {
			return s.versions.HasFinalVersion(ctx, task.ID)
		},
	})
	if err := machine.Fire(ctx, workflow.TriggerSubmit); err != nil {
		return nil, nil, err
	}

	if err := s.checkUnlocked(ctx, op, task); err != nil {
		return nil, nil, err
	}

	var approval *entity.ApprovalRecord
	err = s.uow.run(ctx, func(txCtx context.Context) error {
		if err := s.taskRepo.UpdateStatus(txCtx, task.ID, task.Cycle, task.Status, machine.State()); err != nil {
			return err
		}

		final, err := s.versions.FinalVersion(txCtx, task.ID)
		if err != nil {
			return err
		}
		if final == nil {
			return apperror.Validation(op, "task %d has no final version", task.ID)
		}

		emit(txCtx, event.NewEvent(event.TypeTaskSubmitted, task.DeliverableID, taskPayload(task)))

		if approval, err = s.cycle.Open(txCtx, task.ID, final.ID); err != nil {
			return err
		}

		phaseEvt, err := s.phases.recompute(txCtx, task.DeliverableID)
		if err != nil {
			return err
		}
		if phaseEvt != nil {
			emit(txCtx, phaseEvt)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit task", "error", err, "task_id", taskID)
		return nil, nil, err
	}

	updated, err := loadTask(ctx, s.taskRepo, op, task.ID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Task submitted for approval", "task_id", task.ID, "approval_id", approval.ID, "cycle", task.Cycle)
	return updated, approval, nil
}

// checkUnlocked refuses tasks the gate does not consider workable
func (s *pipelineServiceImpl) checkUnlocked(ctx context.Context, op string, task *entity.TaskInstance) error {
	tasks, err := s.taskRepo.GetByDeliverableID(ctx, task.DeliverableID)
	if err != nil {
		return err
	}
	unlocked, err := gate.IsUnlocked(tasks, task.ID)
	if err != nil {
		s.logger.Error("Workflow configuration is inconsistent", "error", err, "deliverable_id", task.DeliverableID)
		return err
	}
	if !unlocked {
		return apperror.InvalidState(op, "task %d is locked until its predecessor is approved", task.ID)
	}
	return nil
}

func (s *pipelineServiceImpl) Resolve(ctx context.Context, in ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error) {
	return s.cycle.Resolve(ctx, in)
}

func (s *pipelineServiceImpl) GetUnlockedTasks(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error) {
	const op = "get unlocked tasks"

	if _, err := loadDeliverable(ctx, s.deliverableRepo, op, deliverableID); err != nil {
		return nil, err
	}

	tasks, err := s.taskRepo.GetByDeliverableID(ctx, deliverableID)
	if err != nil {
		return nil, err
	}

	unlocked, err := gate.UnlockedTasks(tasks)
	if err != nil {
		s.logger.Error("Workflow configuration is inconsistent", "error", err, "deliverable_id", deliverableID)
		return nil, err
	}
	return unlocked, nil
}

func (s *pipelineServiceImpl) Publish(ctx context.Context, deliverableID int64) (*entity.Deliverable, error) {
	const op = "publish"

	var d *entity.Deliverable
	err := s.uow.run(ctx, func(txCtx context.Context) error {
		var err error
		if d, err = loadDeliverable(txCtx, s.deliverableRepo, op, deliverableID); err != nil {
			return err
		}
		if d.Phase != entity.PhaseScheduledPublication {
			return apperror.InvalidState(op, "deliverable %d is %s, only %s can be published",
				d.ID, d.Phase, entity.PhaseScheduledPublication)
		}
		if err := s.deliverableRepo.UpdatePhase(txCtx, d.ID, entity.PhasePublished); err != nil {
			return err
		}

		emit(txCtx, event.NewEvent(event.TypeDeliverablePhaseChanged, d.ID, map[string]interface{}{
			event.KeyPhase:     string(entity.PhasePublished),
			event.KeyPrevPhase: string(d.Phase),
		}))
		d.Phase = entity.PhasePublished
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to publish deliverable", "error", err, "deliverable_id", deliverableID)
		return nil, err
	}

	s.logger.Info("Deliverable published", "id", d.ID)
	return d, nil
}
