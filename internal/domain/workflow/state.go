package workflow

// State is a task's position in its approval lifecycle
type State string

const (
	StatePending         State = "PENDING"
	StateInProgress      State = "IN_PROGRESS"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
)

var validStates = map[State]bool{
	StatePending:         true,
	StateInProgress:      true,
	StatePendingApproval: true,
	StateApproved:        true,
	StateRejected:        true,
}

// Approved is terminal for a task; reopening an approved task is not supported.
var terminalStates = map[State]bool{
	StateApproved: true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsEditable returns true if the assignee may upload or finalize versions
func (s State) IsEditable() bool {
	return s == StateInProgress
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid task state
func (s State) IsValid() bool {
	return validStates[s]
}
