package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/sqlite"
)

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `id, deliverable_id, workflow_id, name, position, status, assignee_id,
	linked_approval_id, cycle, created_at, completed_at, updated_at`

// Create creates a new task instance
func (r *TaskRepository) Create(ctx context.Context, task *entity.TaskInstance) error {
	ts := now()
	task.CreatedAt, task.UpdatedAt = ts, ts
	if task.Cycle == 0 {
		task.Cycle = 1
	}

	var linked sql.NullInt64
	if task.LinkedApprovalID != nil {
		linked = sql.NullInt64{Int64: *task.LinkedApprovalID, Valid: true}
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO tasks (
			deliverable_id, workflow_id, name, position, status, assignee_id,
			linked_approval_id, cycle, created_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.DeliverableID, task.WorkflowID, task.Name, task.Order, task.Status,
		nullString(task.AssigneeID), linked, task.Cycle,
		task.CreatedAt, nullTime(task.CompletedAt), task.UpdatedAt,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict("create task", "deliverable %d already has a task at order %d",
				task.DeliverableID, task.Order)
		}
		r.logger.Error("Failed to create task",
			zap.Int64("deliverable_id", task.DeliverableID),
			zap.String("name", task.Name),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	return nil
}

// GetByID retrieves a task by its ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.TaskInstance, error) {
	task, err := scanTask(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetByDeliverableID retrieves all tasks of a deliverable ordered by position
func (r *TaskRepository) GetByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE deliverable_id = ? ORDER BY position`, deliverableID)
	if err != nil {
		r.logger.Error("Failed to get tasks by deliverable",
			zap.Int64("deliverable_id", deliverableID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.TaskInstance
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateStatus moves the task from one status to another. The row is only
// touched when both status and cycle still match what the caller read.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, cycle int, from, to workflow.State) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND cycle = ?`,
		to, now(), id, from, cycle)
	if err != nil {
		r.logger.Error("Failed to update task status",
			zap.Int64("id", id),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return r.expectOne(result, "update task status", id, from, cycle)
}

// Reopen moves a rejected task back to IN_PROGRESS and opens the next cycle
func (r *TaskRepository) Reopen(ctx context.Context, id int64, cycle int) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		UPDATE tasks SET status = ?, cycle = cycle + 1, linked_approval_id = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND cycle = ?`,
		workflow.StateInProgress, now(), id, workflow.StateRejected, cycle)
	if err != nil {
		r.logger.Error("Failed to reopen task", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to reopen task: %w", err)
	}
	return r.expectOne(result, "reopen task", id, workflow.StateRejected, cycle)
}

// SetLinkedApproval points the task at its open approval record
func (r *TaskRepository) SetLinkedApproval(ctx context.Context, id int64, approvalID int64) error {
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET linked_approval_id = ?, updated_at = ? WHERE id = ?`,
		approvalID, now(), id)
	if err != nil {
		return fmt.Errorf("failed to link approval: %w", err)
	}
	return nil
}

// SetCompleted records when the task was approved
func (r *TaskRepository) SetCompleted(ctx context.Context, id int64, t time.Time) error {
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET completed_at = ?, updated_at = ? WHERE id = ?`,
		t.UTC(), now(), id)
	if err != nil {
		return fmt.Errorf("failed to set task completion: %w", err)
	}
	return nil
}

func (r *TaskRepository) expectOne(result sql.Result, op string, id int64, from workflow.State, cycle int) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		r.logger.Warn("Task changed concurrently",
			zap.Int64("id", id),
			zap.String("expected_status", from.String()),
			zap.Int("expected_cycle", cycle))
		return apperror.Conflict(op, "task %d is no longer %s in cycle %d", id, from, cycle)
	}
	return nil
}

func scanTask(s scanner) (*entity.TaskInstance, error) {
	var task entity.TaskInstance
	var assignee sql.NullString
	var linked sql.NullInt64
	var completedAt sql.NullTime

	err := s.Scan(
		&task.ID, &task.DeliverableID, &task.WorkflowID, &task.Name, &task.Order,
		&task.Status, &assignee, &linked, &task.Cycle,
		&task.CreatedAt, &completedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.AssigneeID = assignee.String
	if linked.Valid {
		v := linked.Int64
		task.LinkedApprovalID = &v
	}
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}

var _ port.TaskRepository = (*TaskRepository)(nil)
