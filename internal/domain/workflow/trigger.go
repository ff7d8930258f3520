package workflow

// Trigger is an event that can cause a task state transition
type Trigger string

const (
	TriggerUnlock  Trigger = "UNLOCK"
	TriggerSubmit  Trigger = "SUBMIT"
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerReopen  Trigger = "REOPEN"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
