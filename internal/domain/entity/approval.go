package entity

import "time"

// ApprovalStatus is the state of a review request
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Decision is a reviewer's verdict
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// IsValid returns true if the decision is approve or reject
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ApprovalRecord is a review request/response tied to one task submission.
// Records are append-only; a resubmission opens a new record.
type ApprovalRecord struct {
	ID                 int64          `json:"id"`
	TaskID             int64          `json:"task_id"`
	SubmittedVersionID int64          `json:"submitted_version_id"`
	Cycle              int            `json:"cycle"`
	Status             ApprovalStatus `json:"status"`
	Comment            string         `json:"comment,omitempty"`
	ReviewerID         string         `json:"reviewer_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	DecidedAt          *time.Time     `json:"decided_at,omitempty"`
}

// IsPending returns true while the record awaits a decision
func (a *ApprovalRecord) IsPending() bool {
	return a.Status == ApprovalStatusPending
}
