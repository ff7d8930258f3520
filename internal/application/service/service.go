package service

import (
	"context"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/gate"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type outboxKey struct{}

// outbox buffers the events of one unit of work until it commits
type outbox struct {
	events []*event.Event
}

// emit queues events on the unit of work carried by ctx
func emit(ctx context.Context, events ...*event.Event) {
	if ob, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		ob.events = append(ob.events, events...)
	}
}

// unitOfWork runs a mutation in one transaction and publishes the events it
// emitted once the transaction has committed. Nested units join the outer one
// and leave publishing to it.
type unitOfWork struct {
	txManager port.TransactionManager
	publisher port.EventPublisher
	logger    Logger
}

func (u unitOfWork) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(outboxKey{}).(*outbox); nested {
		return u.txManager.WithTransaction(ctx, fn)
	}

	ob := &outbox{}
	if err := u.txManager.WithTransaction(context.WithValue(ctx, outboxKey{}, ob), fn); err != nil {
		return err
	}

	// the state change is durable, a subscriber failure is only logged
	if u.publisher != nil && len(ob.events) > 0 {
		if err := u.publisher.Publish(ctx, ob.events...); err != nil {
			u.logger.Error("Failed to publish events", "error", err, "count", len(ob.events))
		}
	}
	return nil
}

// loadTask returns the task or a not-found error
func loadTask(ctx context.Context, repo port.TaskRepository, op string, id int64) (*entity.TaskInstance, error) {
	task, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperror.NotFound(op, "task %d not found", id)
	}
	return task, nil
}

// loadDeliverable returns the deliverable or a not-found error
func loadDeliverable(ctx context.Context, repo port.DeliverableRepository, op string, id int64) (*entity.Deliverable, error) {
	d, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperror.NotFound(op, "deliverable %d not found", id)
	}
	return d, nil
}

// phaseTracker keeps a deliverable's stored phase in line with its tasks
type phaseTracker struct {
	deliverables port.DeliverableRepository
	tasks        port.TaskRepository
}

// recompute derives the phase from the current task statuses and stores it.
// It must run inside the transaction that changed the tasks. A published
// deliverable keeps its phase.
func (p phaseTracker) recompute(ctx context.Context, deliverableID int64) (*event.Event, error) {
	d, err := loadDeliverable(ctx, p.deliverables, "recompute phase", deliverableID)
	if err != nil {
		return nil, err
	}
	if d.Phase == entity.PhasePublished {
		return nil, nil
	}

	tasks, err := p.tasks.GetByDeliverableID(ctx, deliverableID)
	if err != nil {
		return nil, err
	}

	phase := gate.Phase(tasks)
	if phase == d.Phase {
		return nil, nil
	}
	if err := p.deliverables.UpdatePhase(ctx, deliverableID, phase); err != nil {
		return nil, err
	}

	return event.NewEvent(event.TypeDeliverablePhaseChanged, deliverableID, map[string]interface{}{
		event.KeyPhase:     string(phase),
		event.KeyPrevPhase: string(d.Phase),
	}), nil
}

func taskPayload(task *entity.TaskInstance) map[string]interface{} {
	return map[string]interface{}{
		event.KeyTaskID:     task.ID,
		event.KeyTaskName:   task.Name,
		event.KeyAssigneeID: task.AssigneeID,
		event.KeyCycle:      task.Cycle,
	}
}
