package entity

import "time"

// WorkflowDefinition is an ordered, named collection of task templates.
// Template orders are unique and contiguous from 1.
type WorkflowDefinition struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Tasks     []TaskTemplate `json:"tasks"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskTemplate describes one step of a workflow definition
type TaskTemplate struct {
	ID              int64  `json:"id"`
	WorkflowID      int64  `json:"workflow_id"`
	Name            string `json:"name"`
	Order           int    `json:"order"`
	DefaultAssignee string `json:"default_assignee,omitempty"`
}
