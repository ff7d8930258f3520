package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/gate"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
	"github.com/garyjia/ad-pipeline/pkg/utils"
)

// AddVersionInput describes an uploaded file. TaskID is optional: zero binds
// the version to the deliverable's current task, the earliest unlocked task
// that is not yet approved.
type AddVersionInput struct {
	DeliverableID int64  `json:"deliverable_id"`
	TaskID        int64  `json:"task_id,omitempty"`
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	Locator       string `json:"locator"`
}

// VersionService manages draft and final file versions
type VersionService interface {
	// AddVersion records a new draft version in the task's current cycle
	AddVersion(ctx context.Context, in AddVersionInput) (*entity.VersionRecord, error)

	// MarkFinal nominates a version as the one to submit for review
	MarkFinal(ctx context.Context, versionID int64) (*entity.VersionRecord, error)

	// HasFinalVersion reports whether the task's current cycle has exactly one final version
	HasFinalVersion(ctx context.Context, taskID int64) (bool, error)

	// FinalVersion returns the final version of the task's current cycle, or
	// nil when the cycle does not have exactly one
	FinalVersion(ctx context.Context, taskID int64) (*entity.VersionRecord, error)

	// ListVersions returns every version of the deliverable oldest first
	ListVersions(ctx context.Context, deliverableID int64) ([]*entity.VersionRecord, error)
}

type versionServiceImpl struct {
	deliverableRepo port.DeliverableRepository
	taskRepo        port.TaskRepository
	versionRepo     port.VersionRepository
	uow             unitOfWork
	logger          Logger
}

// NewVersionService creates a new VersionService
func NewVersionService(
	deliverableRepo port.DeliverableRepository,
	taskRepo port.TaskRepository,
	versionRepo port.VersionRepository,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
) VersionService {
	return &versionServiceImpl{
		deliverableRepo: deliverableRepo,
		taskRepo:        taskRepo,
		versionRepo:     versionRepo,
		uow:             unitOfWork{txManager: txManager, publisher: publisher, logger: logger},
		logger:          logger,
	}
}

func (s *versionServiceImpl) AddVersion(ctx context.Context, in AddVersionInput) (*entity.VersionRecord, error) {
	const op = "add version"

	in.FileName = utils.SanitizeString(in.FileName)
	in.Locator = strings.TrimSpace(in.Locator)
	if err := utils.ValidateFileName(in.FileName); err != nil {
		return nil, apperror.Validation(op, "%v", err)
	}
	if err := utils.ValidateLocator(in.Locator); err != nil {
		return nil, apperror.Validation(op, "%v", err)
	}

	version := &entity.VersionRecord{
		DeliverableID: in.DeliverableID,
		FileName:      in.FileName,
		FileType:      in.FileType,
		Locator:       in.Locator,
		IsFinal:       false,
	}

	err := s.uow.run(ctx, func(txCtx context.Context) error {
		if _, err := loadDeliverable(txCtx, s.deliverableRepo, op, in.DeliverableID); err != nil {
			return err
		}

		task, err := s.resolveTask(txCtx, op, in)
		if err != nil {
			return err
		}

		version.TaskID = task.ID
		version.Cycle = task.Cycle
		if err := s.versionRepo.Create(txCtx, version); err != nil {
			return fmt.Errorf("create version: %w", err)
		}

		emit(txCtx, event.NewEvent(event.TypeVersionAdded, version.DeliverableID, map[string]interface{}{
			event.KeyVersionID: version.ID,
			event.KeyTaskID:    version.TaskID,
			event.KeyCycle:     version.Cycle,
		}))
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to add version", "error", err, "deliverable_id", in.DeliverableID, "file_name", in.FileName)
		return nil, err
	}

	s.logger.Info("Version added", "id", version.ID, "task_id", version.TaskID, "cycle", version.Cycle)
	return version, nil
}

// resolveTask finds the task a new version belongs to and checks that it can
// still receive versions
func (s *versionServiceImpl) resolveTask(ctx context.Context, op string, in AddVersionInput) (*entity.TaskInstance, error) {
	tasks, err := s.taskRepo.GetByDeliverableID(ctx, in.DeliverableID)
	if err != nil {
		return nil, err
	}

	var task *entity.TaskInstance
	if in.TaskID == 0 {
		if task, err = gate.Current(tasks); err != nil {
			return nil, err
		}
		if task == nil {
			return nil, apperror.InvalidState(op, "every task of deliverable %d is approved", in.DeliverableID)
		}
		return task, nil
	}

	for _, t := range tasks {
		if t.ID == in.TaskID {
			task = t
			break
		}
	}
	if task == nil {
		return nil, apperror.NotFound(op, "task %d not found in deliverable %d", in.TaskID, in.DeliverableID)
	}

	unlocked, err := gate.IsUnlocked(tasks, task.ID)
	if err != nil {
		return nil, err
	}
	if !unlocked {
		return nil, apperror.InvalidState(op, "task %d is locked", task.ID)
	}
	if task.Status == workflow.StateApproved {
		return nil, apperror.InvalidState(op, "task %d is already approved", task.ID)
	}
	return task, nil
}

func (s *versionServiceImpl) MarkFinal(ctx context.Context, versionID int64) (*entity.VersionRecord, error) {
	const op = "mark final"

	var (
		version *entity.VersionRecord
		changed bool
	)
	err := s.uow.run(ctx, func(txCtx context.Context) error {
		var err error
		version, err = s.versionRepo.GetByID(txCtx, versionID)
		if err != nil {
			return err
		}
		if version == nil {
			return apperror.NotFound(op, "version %d not found", versionID)
		}
		if version.IsFinal {
			return nil
		}

		task, err := loadTask(txCtx, s.taskRepo, op, version.TaskID)
		if err != nil {
			return err
		}
		if version.Cycle != task.Cycle {
			return apperror.InvalidState(op, "version %d belongs to cycle %d, task %d is in cycle %d",
				version.ID, version.Cycle, task.ID, task.Cycle)
		}
		if !task.Status.IsEditable() {
			return apperror.InvalidState(op, "task %d is %s, versions can only be finalized while in progress",
				task.ID, task.Status)
		}

		finals, err := s.versionRepo.ListFinal(txCtx, task.ID, task.Cycle)
		if err != nil {
			return err
		}
		if len(finals) > 0 {
			return apperror.Conflict(op, "version %d is already final for task %d", finals[0].ID, task.ID)
		}

		if err := s.versionRepo.MarkFinal(txCtx, version.ID); err != nil {
			return err
		}
		version.IsFinal = true
		changed = true

		emit(txCtx, event.NewEvent(event.TypeVersionFinalized, version.DeliverableID, map[string]interface{}{
			event.KeyVersionID: version.ID,
			event.KeyTaskID:    version.TaskID,
			event.KeyCycle:     version.Cycle,
		}))
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to mark version final", "error", err, "version_id", versionID)
		return nil, err
	}

	if changed {
		s.logger.Info("Version marked final", "id", version.ID, "task_id", version.TaskID)
	}
	return version, nil
}

func (s *versionServiceImpl) HasFinalVersion(ctx context.Context, taskID int64) (bool, error) {
	final, err := s.FinalVersion(ctx, taskID)
	if err != nil {
		return false, err
	}
	return final != nil, nil
}

func (s *versionServiceImpl) FinalVersion(ctx context.Context, taskID int64) (*entity.VersionRecord, error) {
	task, err := loadTask(ctx, s.taskRepo, "final version", taskID)
	if err != nil {
		return nil, err
	}
	finals, err := s.versionRepo.ListFinal(ctx, task.ID, task.Cycle)
	if err != nil {
		return nil, err
	}
	if len(finals) != 1 {
		return nil, nil
	}
	return finals[0], nil
}

func (s *versionServiceImpl) ListVersions(ctx context.Context, deliverableID int64) ([]*entity.VersionRecord, error) {
	if _, err := loadDeliverable(ctx, s.deliverableRepo, "list versions", deliverableID); err != nil {
		return nil, err
	}
	versions, err := s.versionRepo.ListByDeliverableID(ctx, deliverableID)
	if err != nil {
		s.logger.Error("Failed to list versions", "error", err, "deliverable_id", deliverableID)
		return nil, err
	}
	if versions == nil {
		versions = []*entity.VersionRecord{}
	}
	return versions, nil
}
