package board

import (
	"errors"

	"github.com/DeSecurity/focused-life-hq/domain"
)

var (
	// ErrTaskNotFound is returned when a move references a task id that is
	// not part of the snapshot.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStatus is returned when the destination status is outside
	// the recognized lifecycle set.
	ErrInvalidStatus = errors.New("invalid destination status")
)

// Update is a single (status, order) reassignment produced by ComputeMove.
// Nil fields are unchanged.
type Update struct {
	TaskID string         `json:"taskId"`
	Status *domain.Status `json:"status,omitempty"`
	Order  *int           `json:"order,omitempty"`
}

// ComputeMove computes the full update set required to place the task at
// destIndex in the destStatus column. Columns touched by the move are
// renumbered with contiguous ascending integers starting at 0, and only
// tasks whose (status, order) actually change are emitted, so applying the
// result is minimal and sorting each affected column by (order, createdAt)
// afterwards reproduces exactly the intended sequence.
//
// destIndex is clamped to the column bounds. Moving a task onto its current
// (column, index) position yields an empty update set.
func ComputeMove(tasks []domain.Task, taskID string, destStatus domain.Status, destIndex int) ([]Update, error) {
	if !destStatus.Valid() {
		return nil, ErrInvalidStatus
	}
	moved, ok := findTask(tasks, taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}

	if moved.Status == destStatus {
		return reorderWithin(tasks, moved, destIndex), nil
	}
	return moveAcross(tasks, moved, destStatus, destIndex), nil
}

func findTask(tasks []domain.Task, id string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// reorderWithin handles a move that stays inside one column: remove the task
// from its sorted position, reinsert at destIndex and renumber.
func reorderWithin(tasks []domain.Task, moved domain.Task, destIndex int) []Update {
	col := Column(tasks, moved.Status)
	src := indexOf(col, moved.ID)

	rest := make([]domain.Task, 0, len(col)-1)
	rest = append(rest, col[:src]...)
	rest = append(rest, col[src+1:]...)

	destIndex = clamp(destIndex, len(rest))
	if destIndex == src {
		return []Update{}
	}

	seq := insertAt(rest, moved, destIndex)
	return renumber(seq, nil)
}

// moveAcross reassigns the task to another column. Both the vacated source
// column and the destination column are renumbered contiguously.
func moveAcross(tasks []domain.Task, moved domain.Task, destStatus domain.Status, destIndex int) []Update {
	srcCol := Column(tasks, moved.Status)
	srcIdx := indexOf(srcCol, moved.ID)
	remaining := make([]domain.Task, 0, len(srcCol)-1)
	remaining = append(remaining, srcCol[:srcIdx]...)
	remaining = append(remaining, srcCol[srcIdx+1:]...)

	destCol := Column(tasks, destStatus)
	destIndex = clamp(destIndex, len(destCol))
	seq := insertAt(destCol, moved, destIndex)

	updates := renumber(remaining, nil)
	updates = append(updates, renumber(seq, &destStatus)...)
	return updates
}

// renumber assigns contiguous orders 0..n-1 to seq and emits an update for
// every task whose stored order differs. When newStatus is non-nil the task
// carrying that status change is always emitted, order included, so callers
// can apply the update set without consulting the previous state.
func renumber(seq []domain.Task, newStatus *domain.Status) []Update {
	updates := []Update{}
	for i, t := range seq {
		statusChanged := newStatus != nil && t.Status != *newStatus
		if t.Order == i && !statusChanged {
			continue
		}
		order := i
		u := Update{TaskID: t.ID, Order: &order}
		if statusChanged {
			s := *newStatus
			u.Status = &s
		}
		updates = append(updates, u)
	}
	return updates
}

// ApplyUpdates returns a copy of the snapshot with the update set applied.
// The worker uses it to validate move results and tests use it to check the
// engine's guarantees.
func ApplyUpdates(tasks []domain.Task, updates []Update) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		for _, u := range updates {
			if u.TaskID != out[i].ID {
				continue
			}
			if u.Status != nil {
				out[i].Status = *u.Status
			}
			if u.Order != nil {
				out[i].Order = *u.Order
			}
		}
	}
	return out
}

func indexOf(col []domain.Task, id string) int {
	for i, t := range col {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func insertAt(col []domain.Task, t domain.Task, idx int) []domain.Task {
	seq := make([]domain.Task, 0, len(col)+1)
	seq = append(seq, col[:idx]...)
	seq = append(seq, t)
	seq = append(seq, col[idx:]...)
	return seq
}

func clamp(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx > max {
		return max
	}
	return idx
}
