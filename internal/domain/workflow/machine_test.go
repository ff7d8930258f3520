package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StatePendingApproval, false},
		{StateRejected, false},
		{StateApproved, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"approved", StateApproved, true},
		{"lowercase is not accepted", State("approved"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_ConfigureReturnsSameConfig(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StatePending)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}
	if config2 := builder.Configure(StatePending); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_PanicsOnInvalidState(t *testing.T) {
	t.Run("configure", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Configure() should panic on invalid state")
			}
		}()
		NewBuilder().Configure(State("INVALID"))
	})

	t.Run("build", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Build() should panic on invalid initial state")
			}
		}()
		NewBuilder().Build(State("INVALID"))
	})

	t.Run("permit target", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Permit() should panic on invalid target state")
			}
		}()
		NewBuilder().Configure(StatePending).Permit(TriggerUnlock, State("NOWHERE"))
	})
}

func TestStateMachine_GuardOrder(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateInProgress).
		PermitIf(TriggerSubmit, StateApproved, func(ctx context.Context) error {
			return errors.New("first refuses")
		}).
		PermitIf(TriggerSubmit, StatePendingApproval, func(ctx context.Context) error {
			return nil
		})

	machine := builder.Build(StateInProgress)
	if err := machine.Fire(context.Background(), TriggerSubmit); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine.State() != StatePendingApproval {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StatePendingApproval)
	}
}

func TestStateMachine_BuildIsolation(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerUnlock, StateInProgress)

	m1 := builder.Build(StatePending)
	m2 := builder.Build(StatePending)

	if err := m1.Fire(context.Background(), TriggerUnlock); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m2.State() != StatePending {
		t.Errorf("second machine changed state to %v", m2.State())
	}
}

func hasFinal(v bool) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return v, nil }
}

func TestTaskStateMachine_HappyPath(t *testing.T) {
	ctx := context.Background()

	steps := []struct {
		trigger Trigger
		want    State
	}{
		{TriggerUnlock, StateInProgress},
		{TriggerSubmit, StatePendingApproval},
		{TriggerApprove, StateApproved},
	}

	machine := BuildTaskStateMachine(StatePending, TaskGuards{HasFinalVersion: hasFinal(true)})
	for _, step := range steps {
		if err := machine.Fire(ctx, step.trigger); err != nil {
			t.Fatalf("Fire(%s) failed: %v", step.trigger, err)
		}
		if machine.State() != step.want {
			t.Fatalf("after %s state = %v, want %v", step.trigger, machine.State(), step.want)
		}
	}

	if got := machine.PermittedTriggers(); len(got) != 0 {
		t.Errorf("approved task permits %v, want none", got)
	}
}

func TestTaskStateMachine_RejectAndReopen(t *testing.T) {
	ctx := context.Background()
	machine := BuildTaskStateMachine(StatePendingApproval, TaskGuards{Comment: "wrong aspect ratio"})

	if err := machine.Fire(ctx, TriggerReject); err != nil {
		t.Fatalf("Fire(REJECT) failed: %v", err)
	}
	if machine.State() != StateRejected {
		t.Fatalf("state = %v, want %v", machine.State(), StateRejected)
	}
	if err := machine.Fire(ctx, TriggerReopen); err != nil {
		t.Fatalf("Fire(REOPEN) failed: %v", err)
	}
	if machine.State() != StateInProgress {
		t.Errorf("state = %v, want %v", machine.State(), StateInProgress)
	}
}

func TestTaskStateMachine_GuardFailures(t *testing.T) {
	tests := []struct {
		name    string
		initial State
		trigger Trigger
		guards  TaskGuards
	}{
		{"submit without final version", StateInProgress, TriggerSubmit, TaskGuards{HasFinalVersion: hasFinal(false)}},
		{"submit with nil final check", StateInProgress, TriggerSubmit, TaskGuards{}},
		{"reject with empty comment", StatePendingApproval, TriggerReject, TaskGuards{Comment: ""}},
		{"reject with blank comment", StatePendingApproval, TriggerReject, TaskGuards{Comment: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := BuildTaskStateMachine(tt.initial, tt.guards)
			err := machine.Fire(context.Background(), tt.trigger)
			if err == nil {
				t.Fatal("Fire() should fail when guard fails")
			}
			if !errors.Is(err, ErrGuardFailed) {
				t.Errorf("error = %v, want %v", err, ErrGuardFailed)
			}
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
			if machine.State() != tt.initial {
				t.Errorf("state changed to %v after failed Fire()", machine.State())
			}
		})
	}
}

func TestTaskStateMachine_GuardLookupError(t *testing.T) {
	lookupErr := errors.New("database is locked")
	machine := BuildTaskStateMachine(StateInProgress, TaskGuards{
		HasFinalVersion: func(ctx context.Context) (bool, error) { return false, lookupErr },
	})

	err := machine.Fire(context.Background(), TriggerSubmit)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("error = %v, want %v", err, lookupErr)
	}
	if errors.Is(err, apperror.ErrValidation) {
		t.Error("lookup failures must not be reported as validation errors")
	}
}

func TestTaskStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		initial State
		trigger Trigger
	}{
		{StatePending, TriggerSubmit},
		{StatePending, TriggerApprove},
		{StateInProgress, TriggerApprove},
		{StateInProgress, TriggerUnlock},
		{StatePendingApproval, TriggerSubmit},
		{StateApproved, TriggerReject},
		{StateApproved, TriggerReopen},
		{StateApproved, TriggerSubmit},
		{StateRejected, TriggerSubmit},
	}

	for _, tt := range tests {
		t.Run(string(tt.initial)+"/"+string(tt.trigger), func(t *testing.T) {
			machine := BuildTaskStateMachine(tt.initial, TaskGuards{HasFinalVersion: hasFinal(true), Comment: "x"})
			if machine.CanFire(tt.trigger) {
				t.Errorf("CanFire(%s) = true from %s", tt.trigger, tt.initial)
			}
			err := machine.Fire(context.Background(), tt.trigger)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
			}
			if !errors.Is(err, apperror.ErrInvalidState) {
				t.Errorf("error = %v, want invalid state", err)
			}
			if machine.State() != tt.initial {
				t.Errorf("state changed to %v", machine.State())
			}
		})
	}
}
