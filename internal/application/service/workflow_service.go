package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
)

// DefineWorkflowInput is a new workflow with its ordered task templates
type DefineWorkflowInput struct {
	Name  string                `json:"name"`
	Tasks []entity.TaskTemplate `json:"tasks"`
}

// WorkflowService manages workflow definitions
type WorkflowService interface {
	DefineWorkflow(ctx context.Context, in DefineWorkflowInput) (*entity.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*entity.WorkflowDefinition, error)
}

type workflowServiceImpl struct {
	workflowRepo port.WorkflowRepository
	txManager    port.TransactionManager
	logger       Logger
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(workflowRepo port.WorkflowRepository, txManager port.TransactionManager, logger Logger) WorkflowService {
	return &workflowServiceImpl{
		workflowRepo: workflowRepo,
		txManager:    txManager,
		logger:       logger,
	}
}

func (s *workflowServiceImpl) DefineWorkflow(ctx context.Context, in DefineWorkflowInput) (*entity.WorkflowDefinition, error) {
	if err := validateTemplates(in); err != nil {
		return nil, err
	}

	def := &entity.WorkflowDefinition{
		Name:  strings.TrimSpace(in.Name),
		Tasks: append([]entity.TaskTemplate(nil), in.Tasks...),
	}
	sort.Slice(def.Tasks, func(i, j int) bool { return def.Tasks[i].Order < def.Tasks[j].Order })

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.workflowRepo.Create(txCtx, def); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to define workflow", "error", err, "name", def.Name)
		return nil, err
	}

	s.logger.Info("Workflow defined", "id", def.ID, "name", def.Name, "tasks", len(def.Tasks))
	return def, nil
}

// validateTemplates enforces non-empty names and orders that are unique and
// contiguous from 1
func validateTemplates(in DefineWorkflowInput) error {
	const op = "define workflow"

	if strings.TrimSpace(in.Name) == "" {
		return apperror.Validation(op, "workflow name is required")
	}
	if len(in.Tasks) == 0 {
		return apperror.Validation(op, "workflow needs at least one task")
	}

	seen := make(map[int]bool, len(in.Tasks))
	for _, t := range in.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return apperror.Validation(op, "task at order %d has no name", t.Order)
		}
		if t.Order < 1 || t.Order > len(in.Tasks) {
			return apperror.Validation(op, "task %q has order %d, orders must run from 1 to %d", t.Name, t.Order, len(in.Tasks))
		}
		if seen[t.Order] {
			return apperror.Validation(op, "order %d is used twice", t.Order)
		}
		seen[t.Order] = true
	}
	return nil
}

func (s *workflowServiceImpl) GetWorkflow(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.workflowRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get workflow", "error", err, "id", id)
		return nil, err
	}
	if def == nil {
		return nil, apperror.NotFound("get workflow", "workflow %d not found", id)
	}
	return def, nil
}

func (s *workflowServiceImpl) ListWorkflows(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.workflowRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if defs == nil {
		defs = []*entity.WorkflowDefinition{}
	}
	return defs, nil
}
