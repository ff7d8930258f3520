package entity

import (
	"time"

	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// TaskInstance is one step of a workflow bound to a deliverable.
//
// Cycle counts submission cycles: it starts at 1 and is incremented every time
// a rejected task is reopened. Versions and approvals carry the cycle they
// were created in, which is how "the current cycle" is resolved.
type TaskInstance struct {
	ID               int64          `json:"id"`
	DeliverableID    int64          `json:"deliverable_id"`
	WorkflowID       int64          `json:"workflow_id"`
	Name             string         `json:"name"`
	Order            int            `json:"order"`
	Status           workflow.State `json:"status"`
	AssigneeID       string         `json:"assignee_id,omitempty"`
	LinkedApprovalID *int64         `json:"linked_approval_id,omitempty"`
	Cycle            int            `json:"cycle"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with t
func (t *TaskInstance) Clone() *TaskInstance {
	c := *t
	if t.LinkedApprovalID != nil {
		id := *t.LinkedApprovalID
		c.LinkedApprovalID = &id
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
