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

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts the definition and its templates. Callers wrap it in a
// transaction so a failing template leaves no partial workflow behind.
func (r *WorkflowRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	exec := getExecutor(ctx, r.db)
	def.CreatedAt = now()

	result, err := exec.ExecContext(ctx,
		`INSERT INTO workflows (name, created_at) VALUES (?, ?)`,
		def.Name, def.CreatedAt)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict("create workflow", "workflow %q already exists", def.Name)
		}
		r.logger.Error("Failed to create workflow", zap.String("name", def.Name), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	def.ID = id

	for i := range def.Tasks {
		tmpl := &def.Tasks[i]
		tmpl.WorkflowID = id
		result, err := exec.ExecContext(ctx,
			`INSERT INTO task_templates (workflow_id, name, position, default_assignee) VALUES (?, ?, ?, ?)`,
			id, tmpl.Name, tmpl.Order, nullString(tmpl.DefaultAssignee))
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				return apperror.Configuration("create workflow", "order %d is used twice", tmpl.Order)
			}
			return fmt.Errorf("failed to create task template: %w", err)
		}
		if tmpl.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	return nil
}

// GetByID retrieves a definition with its templates
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	exec := getExecutor(ctx, r.db)

	var def entity.WorkflowDefinition
	err := exec.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM workflows WHERE id = ?`, id).
		Scan(&def.ID, &def.Name, &def.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if def.Tasks, err = r.templates(ctx, id); err != nil {
		return nil, err
	}
	return &def, nil
}

// List returns all workflow definitions with their templates
func (r *WorkflowRepository) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, created_at FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		var def entity.WorkflowDefinition
		if err := rows.Scan(&def.ID, &def.Name, &def.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, def := range defs {
		if def.Tasks, err = r.templates(ctx, def.ID); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (r *WorkflowRepository) templates(ctx context.Context, workflowID int64) ([]entity.TaskTemplate, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, `
		SELECT id, workflow_id, name, position, default_assignee
		FROM task_templates
		WHERE workflow_id = ?
		ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task templates: %w", err)
	}
	defer rows.Close()

	var templates []entity.TaskTemplate
	for rows.Next() {
		var tmpl entity.TaskTemplate
		var assignee sql.NullString
		if err := rows.Scan(&tmpl.ID, &tmpl.WorkflowID, &tmpl.Name, &tmpl.Order, &assignee); err != nil {
			return nil, fmt.Errorf("failed to scan task template: %w", err)
		}
		tmpl.DefaultAssignee = assignee.String
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
