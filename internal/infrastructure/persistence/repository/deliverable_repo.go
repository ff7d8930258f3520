package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
)

// DeliverableRepository implements port.DeliverableRepository
type DeliverableRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliverableRepository creates a new deliverable repository
func NewDeliverableRepository(db *sql.DB, logger *zap.Logger) port.DeliverableRepository {
	return &DeliverableRepository{db: db, logger: logger}
}

const deliverableColumns = `id, title, deadline, phase, workflow_id, created_at, updated_at`

// Create inserts a new deliverable
func (r *DeliverableRepository) Create(ctx context.Context, d *entity.Deliverable) error {
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO deliverables (title, deadline, phase, workflow_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Title, nullTime(d.Deadline), d.Phase, d.WorkflowID, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create deliverable", zap.String("title", d.Title), zap.Error(err))
		return fmt.Errorf("failed to create deliverable: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// GetByID retrieves a deliverable by its ID
func (r *DeliverableRepository) GetByID(ctx context.Context, id int64) (*entity.Deliverable, error) {
	d, err := scanDeliverable(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+deliverableColumns+` FROM deliverables WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get deliverable", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get deliverable: %w", err)
	}
	return d, nil
}

// UpdatePhase sets the deliverable's phase
func (r *DeliverableRepository) UpdatePhase(ctx context.Context, id int64, phase entity.Phase) error {
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE deliverables SET phase = ?, updated_at = ? WHERE id = ?`, phase, now(), id)
	if err != nil {
		r.logger.Error("Failed to update deliverable phase",
			zap.Int64("id", id),
			zap.String("phase", string(phase)),
			zap.Error(err))
		return fmt.Errorf("failed to update deliverable phase: %w", err)
	}
	return nil
}

// List returns deliverables newest first
func (r *DeliverableRepository) List(ctx context.Context, limit, offset int) ([]*entity.Deliverable, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+deliverableColumns+` FROM deliverables ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliverables: %w", err)
	}
	defer rows.Close()

	var out []*entity.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deliverable: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListOpenWithDeadline returns unpublished deliverables with a deadline,
// earliest first
func (r *DeliverableRepository) ListOpenWithDeadline(ctx context.Context) ([]*entity.Deliverable, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, `
		SELECT `+deliverableColumns+` FROM deliverables
		WHERE deadline IS NOT NULL AND phase != ?
		ORDER BY deadline, id`, entity.PhasePublished)
	if err != nil {
		r.logger.Error("Failed to list deliverables with deadline", zap.Error(err))
		return nil, fmt.Errorf("failed to list deliverables with deadline: %w", err)
	}
	defer rows.Close()

	var out []*entity.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deliverable: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeliverable(s scanner) (*entity.Deliverable, error) {
	var d entity.Deliverable
	var deadline sql.NullTime
	if err := s.Scan(&d.ID, &d.Title, &deadline, &d.Phase, &d.WorkflowID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Deadline = timePtr(deadline)
	return &d, nil
}

var _ port.DeliverableRepository = (*DeliverableRepository)(nil)
