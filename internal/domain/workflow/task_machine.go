package workflow

import (
	"context"
	"strings"

	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
)

// TaskGuards supplies the per-call facts the task transitions are guarded by
type TaskGuards struct {
	// HasFinalVersion reports whether the task's current cycle has exactly one
	// final version. A nil func is treated as "no final version".
	HasFinalVersion func(ctx context.Context) (bool, error)

	// Comment is the reviewer comment accompanying a rejection
	Comment string
}

// BuildTaskStateMachine creates a state machine for one task.
//
//	PENDING          --UNLOCK-->  IN_PROGRESS
//	IN_PROGRESS      --SUBMIT-->  PENDING_APPROVAL   (final version required)
//	PENDING_APPROVAL --APPROVE--> APPROVED
//	PENDING_APPROVAL --REJECT-->  REJECTED           (comment required)
//	REJECTED         --REOPEN-->  IN_PROGRESS
func BuildTaskStateMachine(initialState State, guards TaskGuards) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerUnlock, StateInProgress)

	builder.Configure(StateInProgress).
		PermitIf(TriggerSubmit, StatePendingApproval, finalVersionGuard(guards.HasFinalVersion))

	builder.Configure(StatePendingApproval).
		Permit(TriggerApprove, StateApproved).
		PermitIf(TriggerReject, StateRejected, commentGuard(guards.Comment))

	builder.Configure(StateRejected).
		Permit(TriggerReopen, StateInProgress)

	// APPROVED is terminal

	return builder.Build(initialState)
}

func finalVersionGuard(hasFinal func(ctx context.Context) (bool, error)) GuardFunc {
	return func(ctx context.Context) error {
		if hasFinal == nil {
			return apperror.Validation("submit", "task has no final version")
		}
		ok, err := hasFinal(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Validation("submit", "task has no final version")
		}
		return nil
	}
}

func commentGuard(comment string) GuardFunc {
	return func(ctx context.Context) error {
		if strings.TrimSpace(comment) == "" {
			return apperror.Validation("reject", "a comment is required when rejecting")
		}
		return nil
	}
}
