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
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/sqlite"
)

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `a.id, a.task_id, a.submitted_version_id, a.cycle, a.status,
	a.comment, a.reviewer_id, a.created_at, a.decided_at`

// Create inserts a pending approval record
func (r *ApprovalRepository) Create(ctx context.Context, a *entity.ApprovalRecord) error {
	a.CreatedAt = now()
	if a.Status == "" {
		a.Status = entity.ApprovalStatusPending
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO approvals (task_id, submitted_version_id, cycle, status, comment, reviewer_id, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TaskID, a.SubmittedVersionID, a.Cycle, a.Status,
		nullString(a.Comment), nullString(a.ReviewerID), a.CreatedAt, nullTime(a.DecidedAt))
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict("open approval", "task %d already has a pending approval", a.TaskID)
		}
		r.logger.Error("Failed to create approval", zap.Int64("task_id", a.TaskID), zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID retrieves an approval by its ID
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRecord, error) {
	return r.get(ctx, `SELECT `+approvalColumns+` FROM approvals a WHERE a.id = ?`, id)
}

// GetPendingByTaskID retrieves the task's open approval, if any
func (r *ApprovalRepository) GetPendingByTaskID(ctx context.Context, taskID int64) (*entity.ApprovalRecord, error) {
	return r.get(ctx, `SELECT `+approvalColumns+` FROM approvals a
		WHERE a.task_id = ? AND a.status = ?`, taskID, entity.ApprovalStatusPending)
}

// ListByTaskID returns the task's approval chain oldest first
func (r *ApprovalRepository) ListByTaskID(ctx context.Context, taskID int64) ([]*entity.ApprovalRecord, error) {
	return r.list(ctx, `SELECT `+approvalColumns+` FROM approvals a
		WHERE a.task_id = ? ORDER BY a.id`, taskID)
}

// ListByDeliverableID returns all approvals for the deliverable's tasks oldest first
func (r *ApprovalRepository) ListByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.ApprovalRecord, error) {
	return r.list(ctx, `SELECT `+approvalColumns+` FROM approvals a
		JOIN tasks t ON t.id = a.task_id
		WHERE t.deliverable_id = ? ORDER BY a.id`, deliverableID)
}

// Resolve closes a pending approval with the reviewer's decision
func (r *ApprovalRepository) Resolve(ctx context.Context, id int64, status entity.ApprovalStatus, comment, reviewerID string, decidedAt time.Time) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		UPDATE approvals SET status = ?, comment = ?, reviewer_id = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		status, nullString(comment), nullString(reviewerID), decidedAt.UTC(),
		id, entity.ApprovalStatusPending)
	if err != nil {
		r.logger.Error("Failed to resolve approval", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("resolve approval", "approval %d is no longer pending", id)
	}
	return nil
}

func (r *ApprovalRepository) get(ctx context.Context, query string, args ...interface{}) (*entity.ApprovalRecord, error) {
	a, err := scanApproval(getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval", zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

func (r *ApprovalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalRecord, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalRecord
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(s scanner) (*entity.ApprovalRecord, error) {
	var a entity.ApprovalRecord
	var comment, reviewer sql.NullString
	var decidedAt sql.NullTime

	err := s.Scan(&a.ID, &a.TaskID, &a.SubmittedVersionID, &a.Cycle, &a.Status,
		&comment, &reviewer, &a.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	a.Comment = comment.String
	a.ReviewerID = reviewer.String
	a.DecidedAt = timePtr(decidedAt)
	return &a, nil
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
