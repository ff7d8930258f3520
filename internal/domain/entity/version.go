package entity

import "time"

// VersionRecord is one uploaded file artifact for a deliverable.
// The locator is opaque; file bytes live in the blob store.
type VersionRecord struct {
	ID            int64     `json:"id"`
	DeliverableID int64     `json:"deliverable_id"`
	TaskID        int64     `json:"task_id"`
	Cycle         int       `json:"cycle"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	Locator       string    `json:"locator"`
	IsFinal       bool      `json:"is_final"`
	CreatedAt     time.Time `json:"created_at"`
}
