package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// CreateDeliverableInput describes a new deliverable
type CreateDeliverableInput struct {
	Title      string     `json:"title"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	WorkflowID int64      `json:"workflow_id"`
}

// DeliverableView is a deliverable with its tasks ordered by position
type DeliverableView struct {
	Deliverable *entity.Deliverable    `json:"deliverable"`
	Tasks       []*entity.TaskInstance `json:"tasks"`
}

// DeliverableHistory is the full audit trail of a deliverable
type DeliverableHistory struct {
	Deliverable *entity.Deliverable      `json:"deliverable"`
	Tasks       []*entity.TaskInstance   `json:"tasks"`
	Versions    []*entity.VersionRecord  `json:"versions"`
	Approvals   []*entity.ApprovalRecord `json:"approvals"`
}

// DeliverableService creates deliverables and reads their state
type DeliverableService interface {
	// CreateDeliverable instantiates the workflow's tasks and unlocks the first
	CreateDeliverable(ctx context.Context, in CreateDeliverableInput) (*DeliverableView, error)
	GetDeliverable(ctx context.Context, id int64) (*DeliverableView, error)
	ListDeliverables(ctx context.Context, limit, offset int) ([]*entity.Deliverable, error)
	History(ctx context.Context, id int64) (*DeliverableHistory, error)
}

type deliverableServiceImpl struct {
	workflowRepo    port.WorkflowRepository
	deliverableRepo port.DeliverableRepository
	taskRepo        port.TaskRepository
	versionRepo     port.VersionRepository
	approvalRepo    port.ApprovalRepository
	uow             unitOfWork
	logger          Logger
}

// NewDeliverableService creates a new DeliverableService
func NewDeliverableService(
	workflowRepo port.WorkflowRepository,
	deliverableRepo port.DeliverableRepository,
	taskRepo port.TaskRepository,
	versionRepo port.VersionRepository,
	approvalRepo port.ApprovalRepository,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
) DeliverableService {
	return &deliverableServiceImpl{
		workflowRepo:    workflowRepo,
		deliverableRepo: deliverableRepo,
		taskRepo:        taskRepo,
		versionRepo:     versionRepo,
		approvalRepo:    approvalRepo,
		uow:             unitOfWork{txManager: txManager, publisher: publisher, logger: logger},
		logger:          logger,
	}
}

func (s *deliverableServiceImpl) CreateDeliverable(ctx context.Context, in CreateDeliverableInput) (*DeliverableView, error) {
	const op = "create deliverable"

	if strings.TrimSpace(in.Title) == "" {
		return nil, apperror.Validation(op, "title is required")
	}

	def, err := s.workflowRepo.GetByID(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, apperror.NotFound(op, "workflow %d not found", in.WorkflowID)
	}

	d := &entity.Deliverable{
		Title:      strings.TrimSpace(in.Title),
		Deadline:   in.Deadline,
		Phase:      entity.PhaseInPreparation,
		WorkflowID: def.ID,
	}

	var tasks []*entity.TaskInstance
	err = s.uow.run(ctx, func(txCtx context.Context) error {
		if err := s.deliverableRepo.Create(txCtx, d); err != nil {
			return fmt.Errorf("create deliverable: %w", err)
		}
		emit(txCtx, event.NewEvent(event.TypeDeliverableCreated, d.ID, map[string]interface{}{
			event.KeyTitle: d.Title,
			event.KeyPhase: string(d.Phase),
		}))

		tasks = make([]*entity.TaskInstance, 0, len(def.Tasks))
		for _, tmpl := range def.Tasks {
			task := &entity.TaskInstance{
				DeliverableID: d.ID,
				WorkflowID:    def.ID,
				Name:          tmpl.Name,
				Order:         tmpl.Order,
				Status:        workflow.StatePending,
				AssigneeID:    tmpl.DefaultAssignee,
				Cycle:         1,
			}
			if err := s.taskRepo.Create(txCtx, task); err != nil {
				return fmt.Errorf("create task %q: %w", tmpl.Name, err)
			}
			tasks = append(tasks, task)
		}

		if len(tasks) == 0 {
			return apperror.Configuration(op, "workflow %d has no tasks", def.ID)
		}
		if err := unlockTask(txCtx, s.taskRepo, tasks[0]); err != nil {
			return err
		}
		tasks[0].Status = workflow.StateInProgress
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create deliverable", "error", err, "title", in.Title, "workflow_id", in.WorkflowID)
		return nil, err
	}

	s.logger.Info("Deliverable created", "id", d.ID, "workflow_id", def.ID, "tasks", len(tasks))
	return &DeliverableView{Deliverable: d, Tasks: tasks}, nil
}

func (s *deliverableServiceImpl) GetDeliverable(ctx context.Context, id int64) (*DeliverableView, error) {
	d, err := loadDeliverable(ctx, s.deliverableRepo, "get deliverable", id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.taskRepo.GetByDeliverableID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get tasks", "error", err, "deliverable_id", id)
		return nil, err
	}
	return &DeliverableView{Deliverable: d, Tasks: tasks}, nil
}

func (s *deliverableServiceImpl) ListDeliverables(ctx context.Context, limit, offset int) ([]*entity.Deliverable, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.deliverableRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*entity.Deliverable{}
	}
	return list, nil
}

func (s *deliverableServiceImpl) History(ctx context.Context, id int64) (*DeliverableHistory, error) {
	view, err := s.GetDeliverable(ctx, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.versionRepo.ListByDeliverableID(ctx, id)
	if err != nil {
		return nil, err
	}
	approvals, err := s.approvalRepo.ListByDeliverableID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DeliverableHistory{
		Deliverable: view.Deliverable,
		Tasks:       view.Tasks,
		Versions:    versions,
		Approvals:   approvals,
	}, nil
}
