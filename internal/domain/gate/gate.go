// Package gate decides which tasks of a deliverable's workflow are workable.
//
// The result is derived on every call from the tasks' current statuses and is
// never stored, so it cannot drift from the approval history.
package gate

import (
	"sort"

	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

// Validate checks that task orders are unique and contiguous from 1
func Validate(tasks []*entity.TaskInstance) error {
	seen := make(map[int]int64, len(tasks))
	for _, t := range tasks {
		if t.Order < 1 {
			return apperror.Configuration("gate", "task %d has order %d, orders start at 1", t.ID, t.Order)
		}
		if other, dup := seen[t.Order]; dup {
			return apperror.Configuration("gate", "tasks %d and %d share order %d", other, t.ID, t.Order)
		}
		seen[t.Order] = t.ID
	}
	for k := 1; k <= len(tasks); k++ {
		if _, ok := seen[k]; !ok {
			return apperror.Configuration("gate", "workflow has no task at order %d", k)
		}
	}
	return nil
}

// sorted returns the tasks ordered by position without touching the input
func sorted(tasks []*entity.TaskInstance) []*entity.TaskInstance {
	out := append([]*entity.TaskInstance(nil), tasks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// UnlockedTasks returns, in order, every task that is unlocked: the task at
// order 1, and any task whose predecessor is APPROVED.
func UnlockedTasks(tasks []*entity.TaskInstance) ([]*entity.TaskInstance, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}

	ordered := sorted(tasks)
	unlocked := make([]*entity.TaskInstance, 0, len(ordered))
	for i, t := range ordered {
		if i == 0 || ordered[i-1].Status == workflow.StateApproved {
			unlocked = append(unlocked, t)
		}
	}
	return unlocked, nil
}

// IsUnlocked reports whether the task with the given id is unlocked
func IsUnlocked(tasks []*entity.TaskInstance, taskID int64) (bool, error) {
	unlocked, err := UnlockedTasks(tasks)
	if err != nil {
		return false, err
	}
	for _, t := range unlocked {
		if t.ID == taskID {
			return true, nil
		}
	}
	return false, nil
}

// Successor returns the task directly after order, or nil for the last task
func Successor(tasks []*entity.TaskInstance, order int) (*entity.TaskInstance, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Order == order+1 {
			return t, nil
		}
	}
	return nil, nil
}

// Current returns the earliest unlocked task that is not yet approved, or nil
// when every task is approved.
func Current(tasks []*entity.TaskInstance) (*entity.TaskInstance, error) {
	unlocked, err := UnlockedTasks(tasks)
	if err != nil {
		return nil, err
	}
	for _, t := range unlocked {
		if t.Status != workflow.StateApproved {
			return t, nil
		}
	}
	return nil, nil
}

// Phase derives the coarse deliverable phase from task statuses.
// PUBLISHED is never derived; it is only set by an explicit publish.
func Phase(tasks []*entity.TaskInstance) entity.Phase {
	if len(tasks) == 0 {
		return entity.PhaseInPreparation
	}
	approved := 0
	for _, t := range tasks {
		switch t.Status {
		case workflow.StatePendingApproval:
			return entity.PhasePendingApproval
		case workflow.StateApproved:
			approved++
		}
	}
	if approved == len(tasks) {
		return entity.PhaseScheduledPublication
	}
	return entity.PhaseInPreparation
}
