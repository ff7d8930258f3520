package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
	calls               int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockPublisher struct {
	publishFunc func(ctx context.Context, events ...*event.Event) error
	published   []*event.Event
}

func (m *mockPublisher) Publish(ctx context.Context, events ...*event.Event) error {
	m.published = append(m.published, events...)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, events...)
	}
	return nil
}

type mockDeliverableRepo struct {
	getByIDFunc     func(ctx context.Context, id int64) (*entity.Deliverable, error)
	updatePhaseFunc func(ctx context.Context, id int64, phase entity.Phase) error
}

func (m *mockDeliverableRepo) Create(ctx context.Context, d *entity.Deliverable) error {
	d.ID = 1
	return nil
}

func (m *mockDeliverableRepo) GetByID(ctx context.Context, id int64) (*entity.Deliverable, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &entity.Deliverable{ID: id, Phase: entity.PhaseInPreparation}, nil
}

func (m *mockDeliverableRepo) UpdatePhase(ctx context.Context, id int64, phase entity.Phase) error {
	if m.updatePhaseFunc != nil {
		return m.updatePhaseFunc(ctx, id, phase)
	}
	return nil
}

func (m *mockDeliverableRepo) List(ctx context.Context, limit, offset int) ([]*entity.Deliverable, error) {
	return nil, nil
}

func (m *mockDeliverableRepo) ListOpenWithDeadline(ctx context.Context) ([]*entity.Deliverable, error) {
	return nil, nil
}

type mockTaskRepo struct {
	getByIDFunc            func(ctx context.Context, id int64) (*entity.TaskInstance, error)
	getByDeliverableIDFunc func(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error)
	updateStatusFunc       func(ctx context.Context, id int64, cycle int, from, to workflow.State) error
}

func (m *mockTaskRepo) Create(ctx context.Context, task *entity.TaskInstance) error { return nil }

func (m *mockTaskRepo) GetByID(ctx context.Context, id int64) (*entity.TaskInstance, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockTaskRepo) GetByDeliverableID(ctx context.Context, deliverableID int64) ([]*entity.TaskInstance, error) {
	if m.getByDeliverableIDFunc != nil {
		return m.getByDeliverableIDFunc(ctx, deliverableID)
	}
	return []*entity.TaskInstance{}, nil
}

func (m *mockTaskRepo) UpdateStatus(ctx context.Context, id int64, cycle int, from, to workflow.State) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, cycle, from, to)
	}
	return nil
}

func (m *mockTaskRepo) Reopen(ctx context.Context, id int64, cycle int) error {
	return nil
}

func (m *mockTaskRepo) SetLinkedApproval(ctx context.Context, id int64, approvalID int64) error {
	return nil
}

func (m *mockTaskRepo) SetCompleted(ctx context.Context, id int64, t time.Time) error {
	return nil
}

type mockWorkflowRepo struct {
	createFunc func(ctx context.Context, def *entity.WorkflowDefinition) error
}

func (m *mockWorkflowRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, def)
	}
	def.ID = 1
	return nil
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	return nil, nil
}

func (m *mockWorkflowRepo) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return nil, nil
}

func TestUnitOfWork_PublishesAfterCommit(t *testing.T) {
	tx := &mockTxManager{}
	pub := &mockPublisher{}
	uow := unitOfWork{txManager: tx, publisher: pub, logger: &mockLogger{}}

	err := uow.run(context.Background(), func(ctx context.Context) error {
		emit(ctx, event.NewEvent(event.TypeVersionAdded, 1, nil))
		assert.Empty(t, pub.published, "events must wait for commit")

		// a nested unit joins the outer one
		return uow.run(ctx, func(ctx context.Context) error {
			emit(ctx, event.NewEvent(event.TypeVersionFinalized, 1, nil))
			return nil
		})
	})
	require.NoError(t, err)

	require.Len(t, pub.published, 2)
	assert.Equal(t, event.TypeVersionAdded, pub.published[0].Type)
	assert.Equal(t, event.TypeVersionFinalized, pub.published[1].Type)
	assert.Equal(t, 2, tx.calls)
}

func TestUnitOfWork_DropsEventsOnRollback(t *testing.T) {
	pub := &mockPublisher{}
	uow := unitOfWork{txManager: &mockTxManager{}, publisher: pub, logger: &mockLogger{}}
	boom := errors.New("constraint failed")

	err := uow.run(context.Background(), func(ctx context.Context) error {
		emit(ctx, event.NewEvent(event.TypeApprovalOpened, 1, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.published)
}

func TestUnitOfWork_PublisherFailureIsNotReturned(t *testing.T) {
	logger := &mockLogger{}
	pub := &mockPublisher{publishFunc: func(ctx context.Context, events ...*event.Event) error {
		return errors.New("subscriber down")
	}}
	uow := unitOfWork{txManager: &mockTxManager{}, publisher: pub, logger: logger}

	err := uow.run(context.Background(), func(ctx context.Context) error {
		emit(ctx, event.NewEvent(event.TypeTaskUnlocked, 1, nil))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"Failed to publish events"}, logger.errors)
}

func TestPhaseTracker_Recompute(t *testing.T) {
	tasksWith := func(states ...workflow.State) []*entity.TaskInstance {
		out := make([]*entity.TaskInstance, len(states))
		for i, s := range states {
			out[i] = &entity.TaskInstance{ID: int64(i + 1), Order: i + 1, Status: s}
		}
		return out
	}

	tests := []struct {
		name      string
		stored    entity.Phase
		tasks     []*entity.TaskInstance
		wantPhase entity.Phase
		wantEvent bool
	}{
		{"unchanged", entity.PhaseInPreparation, tasksWith(workflow.StateInProgress, workflow.StatePending), entity.PhaseInPreparation, false},
		{"under review", entity.PhaseInPreparation, tasksWith(workflow.StatePendingApproval, workflow.StatePending), entity.PhasePendingApproval, true},
		{"all approved", entity.PhasePendingApproval, tasksWith(workflow.StateApproved, workflow.StateApproved), entity.PhaseScheduledPublication, true},
		{"back to work", entity.PhasePendingApproval, tasksWith(workflow.StateApproved, workflow.StateInProgress), entity.PhaseInPreparation, true},
		{"published is sticky", entity.PhasePublished, tasksWith(workflow.StateApproved), entity.PhasePublished, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := tt.stored
			p := phaseTracker{
				deliverables: &mockDeliverableRepo{
					getByIDFunc: func(ctx context.Context, id int64) (*entity.Deliverable, error) {
						return &entity.Deliverable{ID: id, Phase: stored}, nil
					},
					updatePhaseFunc: func(ctx context.Context, id int64, phase entity.Phase) error {
						stored = phase
						return nil
					},
				},
				tasks: &mockTaskRepo{
					getByDeliverableIDFunc: func(ctx context.Context, id int64) ([]*entity.TaskInstance, error) {
						return tt.tasks, nil
					},
				},
			}

			evt, err := p.recompute(context.Background(), 5)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhase, stored)
			if !tt.wantEvent {
				assert.Nil(t, evt)
				return
			}
			require.NotNil(t, evt)
			assert.Equal(t, event.TypeDeliverablePhaseChanged, evt.Type)
			assert.Equal(t, string(tt.wantPhase), evt.GetPayloadString(event.KeyPhase))
			assert.Equal(t, string(tt.stored), evt.GetPayloadString(event.KeyPrevPhase))
		})
	}
}

func TestPipelineService_GateConfigurationError(t *testing.T) {
	logger := &mockLogger{}
	tasks := &mockTaskRepo{
		getByDeliverableIDFunc: func(ctx context.Context, id int64) ([]*entity.TaskInstance, error) {
			return []*entity.TaskInstance{
				{ID: 1, Order: 1, Status: workflow.StateInProgress},
				{ID: 2, Order: 1, Status: workflow.StatePending},
			}, nil
		},
	}
	svc := NewPipelineService(&mockDeliverableRepo{}, tasks, nil, nil, &mockTxManager{}, nil, logger)

	_, err := svc.GetUnlockedTasks(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConfiguration), "got %v", err)
	assert.Contains(t, logger.errors, "Workflow configuration is inconsistent")
}

func TestPipelineService_SubmitUnknownTask(t *testing.T) {
	svc := NewPipelineService(&mockDeliverableRepo{}, &mockTaskRepo{}, nil, nil, &mockTxManager{}, nil, &mockLogger{})

	_, _, err := svc.SubmitForApproval(context.Background(), 42)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestPipelineService_SubmitApprovedTask(t *testing.T) {
	tasks := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id int64) (*entity.TaskInstance, error) {
			return &entity.TaskInstance{ID: id, Status: workflow.StateApproved, Cycle: 1}, nil
		},
	}
	tx := &mockTxManager{}
	svc := NewPipelineService(&mockDeliverableRepo{}, tasks, nil, nil, tx, nil, &mockLogger{})

	_, _, err := svc.SubmitForApproval(context.Background(), 42)
	assert.True(t, errors.Is(err, apperror.ErrInvalidState), "got %v", err)
	assert.Zero(t, tx.calls, "no transaction is opened for a request that cannot succeed")
}

func TestApprovalCycle_InvalidDecision(t *testing.T) {
	cycle := NewApprovalCycle(&mockDeliverableRepo{}, &mockTaskRepo{}, nil, nil, &mockTxManager{}, nil, &mockLogger{})

	_, _, err := cycle.Resolve(context.Background(), ResolveInput{ApprovalID: 1, Decision: "MAYBE"})
	assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
}

func TestWorkflowService_DefineWorkflowValidation(t *testing.T) {
	tests := []struct {
		name  string
		input DefineWorkflowInput
	}{
		{"empty name", DefineWorkflowInput{Name: " ", Tasks: []entity.TaskTemplate{{Name: "A", Order: 1}}}},
		{"no tasks", DefineWorkflowInput{Name: "wf"}},
		{"unnamed task", DefineWorkflowInput{Name: "wf", Tasks: []entity.TaskTemplate{{Order: 1}}}},
		{"duplicate order", DefineWorkflowInput{Name: "wf", Tasks: []entity.TaskTemplate{{Name: "A", Order: 1}, {Name: "B", Order: 1}}}},
		{"gap", DefineWorkflowInput{Name: "wf", Tasks: []entity.TaskTemplate{{Name: "A", Order: 1}, {Name: "B", Order: 3}}}},
		{"zero order", DefineWorkflowInput{Name: "wf", Tasks: []entity.TaskTemplate{{Name: "A", Order: 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockWorkflowRepo{createFunc: func(ctx context.Context, def *entity.WorkflowDefinition) error {
				t.Fatal("invalid workflow must not be stored")
				return nil
			}}
			svc := NewWorkflowService(repo, &mockTxManager{}, &mockLogger{})

			_, err := svc.DefineWorkflow(context.Background(), tt.input)
			assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
		})
	}
}

func TestWorkflowService_DefineWorkflowSortsTemplates(t *testing.T) {
	var stored *entity.WorkflowDefinition
	repo := &mockWorkflowRepo{createFunc: func(ctx context.Context, def *entity.WorkflowDefinition) error {
		stored = def
		def.ID = 3
		return nil
	}}
	svc := NewWorkflowService(repo, &mockTxManager{}, &mockLogger{})

	def, err := svc.DefineWorkflow(context.Background(), DefineWorkflowInput{
		Name: " print ad ",
		Tasks: []entity.TaskTemplate{
			{Name: "Layout", Order: 2},
			{Name: "Copy", Order: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), def.ID)
	assert.Equal(t, "print ad", stored.Name)
	assert.Equal(t, "Copy", stored.Tasks[0].Name)
	assert.Equal(t, "Layout", stored.Tasks[1].Name)
}

func TestWorkflowService_DefineWorkflowStoreError(t *testing.T) {
	logger := &mockLogger{}
	repo := &mockWorkflowRepo{createFunc: func(ctx context.Context, def *entity.WorkflowDefinition) error {
		return apperror.Conflict("create workflow", "workflow %q already exists", def.Name)
	}}
	svc := NewWorkflowService(repo, &mockTxManager{}, logger)

	_, err := svc.DefineWorkflow(context.Background(), DefineWorkflowInput{
		Name: "dup", Tasks: []entity.TaskTemplate{{Name: "A", Order: 1}},
	})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)
	assert.Equal(t, []string{"Failed to define workflow"}, logger.errors)
}
