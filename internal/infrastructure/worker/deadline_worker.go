package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	"github.com/garyjia/ad-pipeline/internal/domain/gate"
)

// DeadlineWorkerConfig holds configuration for the deadline reminder
type DeadlineWorkerConfig struct {
	PollInterval time.Duration

	// Window is how far ahead of a deadline the reminder fires
	Window time.Duration
}

// DefaultDeadlineWorkerConfig returns default configuration
func DefaultDeadlineWorkerConfig() DeadlineWorkerConfig {
	return DeadlineWorkerConfig{
		PollInterval: 10 * time.Minute,
		Window:       24 * time.Hour,
	}
}

// DeadlineWorker periodically looks for unpublished deliverables whose
// deadline is within the window and publishes a reminder event naming the
// task that is holding them up. Each (deliverable, deadline) pair is
// reminded once per process.
type DeadlineWorker struct {
	config       DeadlineWorkerConfig
	deliverables port.DeliverableRepository
	tasks        port.TaskRepository
	publisher    port.EventPublisher
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	reminded  map[int64]time.Time
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDeadlineWorker creates a new deadline worker
func NewDeadlineWorker(
	config DeadlineWorkerConfig,
	deliverables port.DeliverableRepository,
	tasks port.TaskRepository,
	publisher port.EventPublisher,
	logger *zap.Logger,
) *DeadlineWorker {
	defaults := DefaultDeadlineWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	return &DeadlineWorker{
		config:       config,
		deliverables: deliverables,
		tasks:        tasks,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
		reminded:     make(map[int64]time.Time),
	}
}

// Name returns the worker name for identification
func (w *DeadlineWorker) Name() string {
	return "DeadlineWorker"
}

// Start begins the polling loop
func (w *DeadlineWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("deadline worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("DeadlineWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("window", w.config.Window))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight scan
func (w *DeadlineWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("DeadlineWorker stopped")
	return nil
}

func (w *DeadlineWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Deadline scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scans for approaching deadlines and returns how many reminders
// were published
func (w *DeadlineWorker) RunOnce(ctx context.Context) (int, error) {
	open, err := w.deliverables.ListOpenWithDeadline(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := w.now().Add(w.config.Window)
	sent := 0
	for _, d := range open {
		if d.Deadline.After(cutoff) {
			// sorted by deadline
			break
		}
		if w.alreadyReminded(d) {
			continue
		}

		evt, err := w.reminder(ctx, d)
		if err != nil {
			w.logger.Error("Failed to build deadline reminder", zap.Int64("deliverable_id", d.ID), zap.Error(err))
			continue
		}
		if evt == nil {
			continue
		}

		if err := w.publisher.Publish(ctx, evt); err != nil {
			w.logger.Error("Failed to publish deadline reminder", zap.Int64("deliverable_id", d.ID), zap.Error(err))
			continue
		}
		w.markReminded(d)
		sent++
	}

	if sent > 0 {
		w.logger.Info("Deadline reminders published", zap.Int("count", sent))
	}
	return sent, nil
}

// reminder returns nil when no task is waiting on anyone
func (w *DeadlineWorker) reminder(ctx context.Context, d *entity.Deliverable) (*event.Event, error) {
	tasks, err := w.tasks.GetByDeliverableID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	current, err := gate.Current(tasks)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	return event.NewEvent(event.TypeDeadlineApproaching, d.ID, map[string]interface{}{
		event.KeyTitle:      d.Title,
		event.KeyDeadline:   d.Deadline.UTC().Format(time.RFC3339),
		event.KeyTaskID:     current.ID,
		event.KeyTaskName:   current.Name,
		event.KeyAssigneeID: current.AssigneeID,
		event.KeyPhase:      string(d.Phase),
	}), nil
}

func (w *DeadlineWorker) alreadyReminded(d *entity.Deliverable) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.reminded[d.ID]
	return ok && at.Equal(*d.Deadline)
}

func (w *DeadlineWorker) markReminded(d *entity.Deliverable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reminded[d.ID] = *d.Deadline
}

var _ Worker = (*DeadlineWorker)(nil)
