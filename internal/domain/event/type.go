package event

// Type identifies the type of domain event
type Type string

const (
	TypeDeliverableCreated      Type = "deliverable.created"
	TypeDeliverablePhaseChanged Type = "deliverable.phase_changed"
	TypeTaskUnlocked            Type = "task.unlocked"
	TypeTaskSubmitted           Type = "task.submitted"
	TypeTaskReopened            Type = "task.reopened"
	TypeVersionAdded            Type = "version.added"
	TypeVersionFinalized        Type = "version.finalized"
	TypeApprovalOpened          Type = "approval.opened"
	TypeApprovalResolved        Type = "approval.resolved"
	TypeDeadlineApproaching     Type = "deliverable.deadline_approaching"
)

// All lists every event type, in a stable order
var All = []Type{
	TypeDeliverableCreated,
	TypeDeliverablePhaseChanged,
	TypeTaskUnlocked,
	TypeTaskSubmitted,
	TypeTaskReopened,
	TypeVersionAdded,
	TypeVersionFinalized,
	TypeApprovalOpened,
	TypeApprovalResolved,
	TypeDeadlineApproaching,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}
