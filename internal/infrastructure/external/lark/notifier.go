package lark

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/dispatcher"
	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

// Notifier turns pipeline events into IM messages for the people who have
// to act on them.
type Notifier struct {
	sender    port.MessageSender
	directory port.IdentityProvider
	reviewers []string
	logger    *zap.Logger
}

// NewNotifier creates a notifier. reviewers receive a message for every
// approval that is opened.
func NewNotifier(sender port.MessageSender, directory port.IdentityProvider, reviewers []string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		directory: directory,
		reviewers: reviewers,
		logger:    logger,
	}
}

// Register subscribes the notifier to the events it reports on
func (n *Notifier) Register(d dispatcher.Dispatcher) {
	d.Subscribe(event.TypeTaskUnlocked, "lark.task_unlocked", n.onTaskUnlocked)
	d.Subscribe(event.TypeTaskReopened, "lark.task_reopened", n.onTaskReopened)
	d.Subscribe(event.TypeApprovalOpened, "lark.approval_opened", n.onApprovalOpened)
	d.Subscribe(event.TypeApprovalResolved, "lark.approval_resolved", n.onApprovalResolved)
	d.Subscribe(event.TypeDeadlineApproaching, "lark.deadline_approaching", n.onDeadlineApproaching)
}

func (n *Notifier) onTaskUnlocked(ctx context.Context, evt *event.Event) error {
	assignee := evt.GetPayloadString(event.KeyAssigneeID)
	if assignee == "" {
		return nil
	}
	msg := fmt.Sprintf("Task %q of deliverable #%d is ready for you.",
		evt.GetPayloadString(event.KeyTaskName), evt.DeliverableID)
	return n.sender.SendMessage(ctx, assignee, msg)
}

func (n *Notifier) onTaskReopened(ctx context.Context, evt *event.Event) error {
	assignee := evt.GetPayloadString(event.KeyAssigneeID)
	if assignee == "" {
		return nil
	}
	msg := fmt.Sprintf("Task %q of deliverable #%d was reopened for revision (cycle %d).",
		evt.GetPayloadString(event.KeyTaskName), evt.DeliverableID, evt.GetPayloadInt(event.KeyCycle))
	return n.sender.SendMessage(ctx, assignee, msg)
}

func (n *Notifier) onApprovalOpened(ctx context.Context, evt *event.Event) error {
	if len(n.reviewers) == 0 {
		return nil
	}

	submitter := n.displayName(ctx, evt.GetPayloadString(event.KeyAssigneeID))
	msg := fmt.Sprintf("%s submitted task %q of deliverable #%d for approval (request #%d).",
		submitter, evt.GetPayloadString(event.KeyTaskName), evt.DeliverableID, evt.GetPayloadInt(event.KeyApprovalID))

	return n.notifyReviewers(ctx, msg)
}

func (n *Notifier) notifyReviewers(ctx context.Context, msg string) error {
	var failed []string
	for _, reviewer := range n.reviewers {
		if err := n.sender.SendMessage(ctx, reviewer, msg); err != nil {
			n.logger.Error("Failed to notify reviewer", zap.String("reviewer", reviewer), zap.Error(err))
			failed = append(failed, reviewer)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to notify reviewers: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (n *Notifier) onApprovalResolved(ctx context.Context, evt *event.Event) error {
	assignee := evt.GetPayloadString(event.KeyAssigneeID)
	if assignee == "" {
		return nil
	}

	reviewer := n.displayName(ctx, evt.GetPayloadString(event.KeyReviewerID))
	task := evt.GetPayloadString(event.KeyTaskName)

	var msg string
	if evt.GetPayloadString(event.KeyDecision) == "APPROVE" {
		msg = fmt.Sprintf("%s approved task %q of deliverable #%d.", reviewer, task, evt.DeliverableID)
	} else {
		msg = fmt.Sprintf("%s rejected task %q of deliverable #%d: %s",
			reviewer, task, evt.DeliverableID, evt.GetPayloadString(event.KeyComment))
	}
	return n.sender.SendMessage(ctx, assignee, msg)
}

// onDeadlineApproaching reminds the assignee of the task holding the
// deliverable up. Unassigned tasks go to the reviewers instead.
func (n *Notifier) onDeadlineApproaching(ctx context.Context, evt *event.Event) error {
	msg := fmt.Sprintf("Deliverable #%d %q is due %s and is waiting on task %q.",
		evt.DeliverableID, evt.GetPayloadString(event.KeyTitle),
		evt.GetPayloadString(event.KeyDeadline), evt.GetPayloadString(event.KeyTaskName))

	if assignee := evt.GetPayloadString(event.KeyAssigneeID); assignee != "" {
		return n.sender.SendMessage(ctx, assignee, msg)
	}
	return n.notifyReviewers(ctx, msg)
}

// displayName falls back to the raw id when the directory cannot resolve it
func (n *Notifier) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return "Someone"
	}
	if n.directory == nil {
		return userID
	}
	name, err := n.directory.DisplayName(ctx, userID)
	if err != nil {
		n.logger.Warn("Failed to resolve display name", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	return name
}
