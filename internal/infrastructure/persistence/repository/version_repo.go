package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/sqlite"
)

// VersionRepository implements port.VersionRepository
type VersionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *sql.DB, logger *zap.Logger) port.VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

const versionColumns = `id, deliverable_id, task_id, cycle, file_name, file_type, locator, is_final, created_at`

// Create inserts a new version record
func (r *VersionRepository) Create(ctx context.Context, v *entity.VersionRecord) error {
	v.CreatedAt = now()

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO versions (deliverable_id, task_id, cycle, file_name, file_type, locator, is_final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.DeliverableID, v.TaskID, v.Cycle, v.FileName, v.FileType, v.Locator, v.IsFinal, v.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create version",
			zap.Int64("deliverable_id", v.DeliverableID),
			zap.String("file_name", v.FileName),
			zap.Error(err))
		return fmt.Errorf("failed to create version: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	v.ID = id
	return nil
}

// GetByID retrieves a version by its ID
func (r *VersionRepository) GetByID(ctx context.Context, id int64) (*entity.VersionRecord, error) {
	v, err := scanVersion(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get version", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// ListByDeliverableID returns the deliverable's versions oldest first
func (r *VersionRepository) ListByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.VersionRecord, error) {
	return r.list(ctx, `SELECT `+versionColumns+` FROM versions WHERE deliverable_id = ? ORDER BY id`, deliverableID)
}

// ListFinal returns the final versions of one task cycle
func (r *VersionRepository) ListFinal(ctx context.Context, taskID int64, cycle int) ([]*entity.VersionRecord, error) {
	return r.list(ctx, `SELECT `+versionColumns+` FROM versions
		WHERE task_id = ? AND cycle = ? AND is_final = 1 ORDER BY id`, taskID, cycle)
}

// MarkFinal flags the version as final
func (r *VersionRepository) MarkFinal(ctx context.Context, id int64) error {
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE versions SET is_final = 1 WHERE id = ?`, id)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict("mark final", "another version is already final for this task cycle")
		}
		r.logger.Error("Failed to mark version final", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark version final: %w", err)
	}
	return nil
}

func (r *VersionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.VersionRecord, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*entity.VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(s scanner) (*entity.VersionRecord, error) {
	var v entity.VersionRecord
	err := s.Scan(&v.ID, &v.DeliverableID, &v.TaskID, &v.Cycle,
		&v.FileName, &v.FileType, &v.Locator, &v.IsFinal, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

var _ port.VersionRepository = (*VersionRepository)(nil)
