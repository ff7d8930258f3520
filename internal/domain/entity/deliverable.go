package entity

import "time"

// Phase is the coarse-grained lifecycle position of a deliverable
type Phase string

const (
	PhaseInPreparation        Phase = "IN_PREPARATION"
	PhasePendingApproval      Phase = "PENDING_APPROVAL"
	PhaseScheduledPublication Phase = "SCHEDULED_PUBLICATION"
	PhasePublished            Phase = "PUBLISHED"
)

// IsValid returns true if the phase is one of the defined constants
func (p Phase) IsValid() bool {
	switch p {
	case PhaseInPreparation, PhasePendingApproval, PhaseScheduledPublication, PhasePublished:
		return true
	default:
		return false
	}
}

// Deliverable is the creative unit ("Ad") moving through a production workflow.
// WorkflowID is fixed at creation.
type Deliverable struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Phase      Phase      `json:"phase"`
	WorkflowID int64      `json:"workflow_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
