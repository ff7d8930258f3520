package container

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/ad-pipeline/internal/application/service"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "pipeline.db")
	cfg.Metrics.Namespace = "container_test"
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Lark.AppID = "cli_only_id"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	_, err = c.NewHTTPServer()
	assert.Error(t, err, "server needs a started container")

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))

	health := c.Health()
	assert.True(t, health.Overall)
	assert.Equal(t, "disabled", health.Components["lark"].Message)
	assert.True(t, health.Components["workers"].Healthy)
	assert.Equal(t, 1, c.Workers().GetWorkerCount())
	assert.NotNil(t, c.Metrics())

	server, err := c.NewHTTPServer()
	require.NoError(t, err)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_EventsReachSubscribersAfterCommit(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	received := make(chan *event.Event, 8)
	c.Dispatcher().Subscribe(event.TypeTaskUnlocked, "test", func(ctx context.Context, evt *event.Event) error {
		received <- evt
		return nil
	})

	ctx := context.Background()
	def, err := c.Services().Workflow.DefineWorkflow(ctx, service.DefineWorkflowInput{
		Name:  "single",
		Tasks: []entity.TaskTemplate{{Name: "Cut", Order: 1}},
	})
	require.NoError(t, err)
	view, err := c.Services().Deliverable.CreateDeliverable(ctx, service.CreateDeliverableInput{Title: "Spot", WorkflowID: def.ID})
	require.NoError(t, err)

	select {
	case evt := <-received:
		assert.Equal(t, view.Deliverable.ID, evt.DeliverableID)
	case <-time.After(2 * time.Second):
		t.Fatal("task.unlocked was not delivered")
	}
}

func TestContainer_DeadlineWorkerPublishesReminder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.DeadlinePollInterval = 20 * time.Millisecond
	cfg.Worker.DeadlineWindow = 48 * time.Hour

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	received := make(chan *event.Event, 8)
	c.Dispatcher().Subscribe(event.TypeDeadlineApproaching, "test", func(ctx context.Context, evt *event.Event) error {
		received <- evt
		return nil
	})

	ctx := context.Background()
	def, err := c.Services().Workflow.DefineWorkflow(ctx, service.DefineWorkflowInput{
		Name:  "single",
		Tasks: []entity.TaskTemplate{{Name: "Cut", Order: 1}},
	})
	require.NoError(t, err)
	deadline := time.Now().Add(6 * time.Hour)
	view, err := c.Services().Deliverable.CreateDeliverable(ctx, service.CreateDeliverableInput{
		Title:      "Spot",
		WorkflowID: def.ID,
		Deadline:   &deadline,
	})
	require.NoError(t, err)

	select {
	case evt := <-received:
		assert.Equal(t, view.Deliverable.ID, evt.DeliverableID)
		assert.Equal(t, "Cut", evt.GetPayloadString(event.KeyTaskName))
	case <-time.After(2 * time.Second):
		t.Fatal("deadline reminder was not delivered")
	}
}

func TestContainer_WorkersDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Enabled = false

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Equal(t, 0, c.Workers().GetWorkerCount())
	assert.Equal(t, "disabled", c.Health().Components["workers"].Message)
	assert.True(t, c.Health().Overall)
}

func TestContainer_StartFailsOnBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Timezone = "Nowhere/Land"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}

func TestConvertToZapFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	adapter := &zapLoggerAdapter{logger: zap.New(core)}

	adapter.Error("failed", "task_id", int64(3), "error", errors.New("boom"), 42, "dropped", "dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["task_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Len(t, fields, 2)
}

func TestProvideLarkAdapter(t *testing.T) {
	logger := zap.NewNop()

	assert.Nil(t, ProvideLarkAdapter(&LarkConfig{Commands: true}, nil, logger), "no credentials")
	assert.Nil(t, ProvideLarkAdapter(&LarkConfig{AppID: "cli_x", AppSecret: "s"}, nil, logger), "commands off")

	adapter := ProvideLarkAdapter(&LarkConfig{AppID: "cli_x", AppSecret: "s", Reviewers: []string{"ou_lead"}, Commands: true}, nil, logger)
	require.NotNil(t, adapter)
	assert.False(t, adapter.IsRunning())
}
