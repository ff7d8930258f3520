// Package websocket provides WebSocket adapters for external event sources.
// This package translates protocol-specific events into pipeline operations.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/application/service"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
)

// Resolver is the part of the approval cycle the adapter drives
type Resolver interface {
	Resolve(ctx context.Context, in service.ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error)
}

// LarkAdapterConfig holds configuration for the Lark WebSocket adapter.
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string

	// Reviewers are the open_ids allowed to resolve approvals from chat
	Reviewers []string
}

// LarkAdapter keeps a Lark long connection open and lets reviewers resolve
// approvals by messaging the bot:
//
//	approve 12 looks great
//	reject 12 logo is cut off
type LarkAdapter struct {
	appID     string
	appSecret string
	reviewers map[string]bool
	resolver  Resolver
	replies   port.MessageSender
	logger    *zap.Logger

	wsClient *larkws.Client
	mu       sync.RWMutex
	started  bool
}

// NewLarkAdapter creates a new Lark WebSocket adapter. replies may be nil,
// in which case outcomes are only logged.
func NewLarkAdapter(cfg LarkAdapterConfig, resolver Resolver, replies port.MessageSender, logger *zap.Logger) *LarkAdapter {
	reviewers := make(map[string]bool, len(cfg.Reviewers))
	for _, r := range cfg.Reviewers {
		reviewers[r] = true
	}
	return &LarkAdapter{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		reviewers: reviewers,
		resolver:  resolver,
		replies:   replies,
		logger:    logger,
	}
}

// Start opens the WebSocket connection and blocks until ctx is cancelled or
// the client fails.
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}

	// verification token and encrypt key are not used in WebSocket mode
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(a.onMessage)

	a.wsClient = larkws.NewClient(a.appID, a.appSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)
	a.started = true
	a.mu.Unlock()

	a.logger.Info("Starting Lark WebSocket adapter",
		zap.String("app_id", a.appID),
		zap.Int("reviewers", len(a.reviewers)))

	if err := a.wsClient.Start(ctx); err != nil {
		a.logger.Error("Lark WebSocket client error", zap.Error(err))
		return fmt.Errorf("websocket client error: %w", err)
	}
	return nil
}

// Stop marks the adapter stopped. The SDK client itself stops when the
// context passed to Start is cancelled.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false
	a.logger.Info("Lark WebSocket adapter stopped")
	return nil
}

// IsRunning returns whether the adapter is currently running.
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

func (a *LarkAdapter) onMessage(ctx context.Context, evt *larkim.P2MessageReceiveV1) error {
	if evt == nil || evt.Event == nil || evt.Event.Message == nil || evt.Event.Sender == nil || evt.Event.Sender.SenderId == nil {
		return nil
	}
	msg := evt.Event.Message
	if deref(msg.MessageType) != "text" {
		return nil
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(deref(msg.Content)), &body); err != nil {
		a.logger.Warn("Failed to parse message content", zap.Error(err))
		return nil
	}

	a.HandleCommand(ctx, deref(evt.Event.Sender.SenderId.OpenId), body.Text)
	return nil
}

// HandleCommand executes one chat command from sender. Anything that is not
// an approve/reject command is ignored.
func (a *LarkAdapter) HandleCommand(ctx context.Context, sender, text string) {
	cmd, ok := parseCommand(text)
	if !ok {
		return
	}
	if !a.reviewers[sender] {
		a.logger.Warn("Ignoring command from non-reviewer", zap.String("sender", sender))
		a.reply(ctx, sender, "You are not a reviewer for this pipeline.")
		return
	}
	if cmd.err != nil {
		a.reply(ctx, sender, cmd.err.Error())
		return
	}

	task, approval, err := a.resolver.Resolve(ctx, service.ResolveInput{
		ApprovalID: cmd.approvalID,
		Decision:   cmd.decision,
		Comment:    cmd.comment,
		ReviewerID: sender,
	})
	if err != nil {
		a.logger.Info("Chat resolution refused",
			zap.Int64("approval_id", cmd.approvalID),
			zap.String("kind", string(apperror.KindOf(err))),
			zap.Error(err))
		a.reply(ctx, sender, fmt.Sprintf("Could not resolve request #%d: %s", cmd.approvalID, userMessage(err)))
		return
	}

	a.logger.Info("Approval resolved from chat",
		zap.Int64("approval_id", approval.ID),
		zap.Int64("task_id", task.ID),
		zap.String("decision", string(cmd.decision)))
	a.reply(ctx, sender, fmt.Sprintf("Request #%d: %s recorded for task %q.", approval.ID, strings.ToLower(string(cmd.decision)), task.Name))
}

func (a *LarkAdapter) reply(ctx context.Context, to, content string) {
	if a.replies == nil || to == "" {
		return
	}
	if err := a.replies.SendMessage(ctx, to, content); err != nil {
		a.logger.Warn("Failed to reply", zap.String("to", to), zap.Error(err))
	}
}

type command struct {
	decision   entity.Decision
	approvalID int64
	comment    string
	err        error
}

// parseCommand reports ok=false when text is not addressed to the pipeline.
// A recognized verb with bad arguments returns ok=true and a usage error.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{}, false
	}

	var cmd command
	switch strings.ToLower(fields[0]) {
	case "approve":
		cmd.decision = entity.DecisionApprove
	case "reject":
		cmd.decision = entity.DecisionReject
	default:
		return command{}, false
	}

	if len(fields) < 2 {
		cmd.err = fmt.Errorf("usage: %s <request-id> [comment]", strings.ToLower(fields[0]))
		return cmd, true
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		cmd.err = fmt.Errorf("%q is not a request id", fields[1])
		return cmd, true
	}
	cmd.approvalID = id
	cmd.comment = strings.Join(fields[2:], " ")
	return cmd, true
}

// userMessage hides internal failures from chat users
func userMessage(err error) string {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		return "internal error"
	}
	if appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
