package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeSecurity/focused-life-hq/domain"
)

func task(id string, status domain.Status, order int) domain.Task {
	return domain.Task{ID: id, Status: status, Order: order, CreatedAt: int64(order)}
}

// columnIDs applies the updates and returns the id sequence of one column.
func columnIDs(t *testing.T, tasks []domain.Task, updates []Update, status domain.Status) []string {
	t.Helper()
	col := Column(ApplyUpdates(tasks, updates), status)
	ids := make([]string, len(col))
	for i, task := range col {
		ids[i] = task.ID
	}
	return ids
}

func TestComputeMoveSameColumnToEnd(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("c", domain.StatusTodo, 2),
	}

	updates, err := ComputeMove(tasks, "a", domain.StatusTodo, 2)
	require.NoError(t, err)

	byID := updatesByID(updates)
	require.Len(t, byID, 3)
	assert.Equal(t, 0, *byID["b"].Order)
	assert.Equal(t, 1, *byID["c"].Order)
	assert.Equal(t, 2, *byID["a"].Order)

	assert.Equal(t, []string{"b", "c", "a"}, columnIDs(t, tasks, updates, domain.StatusTodo))
}

func TestComputeMoveSameColumnForward(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("c", domain.StatusTodo, 2),
		task("d", domain.StatusTodo, 3),
	}

	updates, err := ComputeMove(tasks, "d", domain.StatusTodo, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "d", "b", "c"}, columnIDs(t, tasks, updates, domain.StatusTodo))

	// a keeps its order, so no update for it.
	byID := updatesByID(updates)
	_, touched := byID["a"]
	assert.False(t, touched, "unchanged task should not be emitted")
}

func TestComputeMoveCrossColumn(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusDone, 0),
	}

	updates, err := ComputeMove(tasks, "a", domain.StatusDone, 0)
	require.NoError(t, err)

	byID := updatesByID(updates)
	require.Contains(t, byID, "a")
	require.NotNil(t, byID["a"].Status)
	assert.Equal(t, domain.StatusDone, *byID["a"].Status)
	assert.Equal(t, 0, *byID["a"].Order)
	require.Contains(t, byID, "b")
	assert.Equal(t, 1, *byID["b"].Order)

	assert.Empty(t, columnIDs(t, tasks, updates, domain.StatusTodo))
	assert.Equal(t, []string{"a", "b"}, columnIDs(t, tasks, updates, domain.StatusDone))
}

func TestComputeMoveCrossColumnClosesSourceGap(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("c", domain.StatusTodo, 2),
		task("x", domain.StatusInProgress, 0),
		task("y", domain.StatusInProgress, 1),
	}

	updates, err := ComputeMove(tasks, "b", domain.StatusInProgress, 1)
	require.NoError(t, err)

	after := ApplyUpdates(tasks, updates)
	src := Column(after, domain.StatusTodo)
	require.Len(t, src, 2)
	for i, tk := range src {
		assert.Equal(t, i, tk.Order, "source column must be contiguous")
	}
	dest := Column(after, domain.StatusInProgress)
	require.Len(t, dest, 3)
	for i, tk := range dest {
		assert.Equal(t, i, tk.Order, "destination column must be contiguous")
	}
	assert.Equal(t, []string{"x", "b", "y"}, columnIDs(t, tasks, updates, domain.StatusInProgress))
}

func TestComputeMoveClampsDestinationIndex(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("x", domain.StatusDone, 0),
	}

	updates, err := ComputeMove(tasks, "a", domain.StatusDone, 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "a"}, columnIDs(t, tasks, updates, domain.StatusDone))

	updates, err = ComputeMove(tasks, "a", domain.StatusDone, -5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x"}, columnIDs(t, tasks, updates, domain.StatusDone))
}

func TestComputeMoveNoopWhenDestinationMatchesCurrent(t *testing.T) {
	// Orders are deliberately non-contiguous: a no-op move must not trigger
	// renumbering writes.
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 5),
		task("c", domain.StatusTodo, 9),
	}

	updates, err := ComputeMove(tasks, "b", domain.StatusTodo, 1)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestComputeMoveTaskNotFound(t *testing.T) {
	tasks := []domain.Task{task("a", domain.StatusTodo, 0)}

	updates, err := ComputeMove(tasks, "missing-id", domain.StatusDone, 0)
	require.ErrorIs(t, err, ErrTaskNotFound)
	assert.Nil(t, updates)
}

func TestComputeMoveInvalidDestinationStatus(t *testing.T) {
	tasks := []domain.Task{task("a", domain.StatusTodo, 0)}

	updates, err := ComputeMove(tasks, "a", domain.Status("archived"), 0)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Nil(t, updates)
}

func TestComputeMoveRoundTripRestoresRelativeOrder(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("c", domain.StatusTodo, 2),
		task("x", domain.StatusBlocked, 0),
	}

	out, err := ComputeMove(tasks, "b", domain.StatusBlocked, 0)
	require.NoError(t, err)
	moved := ApplyUpdates(tasks, out)

	back, err := ComputeMove(moved, "b", domain.StatusTodo, 1)
	require.NoError(t, err)
	restored := ApplyUpdates(moved, back)

	assert.Equal(t, []string{"a", "b", "c"}, columnIDs(t, restored, nil, domain.StatusTodo))
	assert.Equal(t, []string{"x"}, columnIDs(t, restored, nil, domain.StatusBlocked))
}

func TestComputeMovePreservesRelativeOrderOfOthers(t *testing.T) {
	tasks := []domain.Task{
		task("a", domain.StatusTodo, 0),
		task("b", domain.StatusTodo, 1),
		task("c", domain.StatusTodo, 2),
		task("d", domain.StatusTodo, 3),
		task("e", domain.StatusTodo, 4),
	}

	for dest := 0; dest <= 5; dest++ {
		updates, err := ComputeMove(tasks, "c", domain.StatusTodo, dest)
		require.NoError(t, err)

		ids := columnIDs(t, tasks, updates, domain.StatusTodo)
		require.Len(t, ids, 5)

		// c lands at the clamped destination.
		want := dest
		if want > 4 {
			want = 4
		}
		assert.Equal(t, "c", ids[want], "dest=%d", dest)

		// Everyone else keeps their relative order.
		others := make([]string, 0, 4)
		for _, id := range ids {
			if id != "c" {
				others = append(others, id)
			}
		}
		assert.Equal(t, []string{"a", "b", "d", "e"}, others, "dest=%d", dest)
	}
}

func TestComputeMoveWithDuplicateOrdersUsesCreatedAtTieBreak(t *testing.T) {
	tasks := []domain.Task{
		{ID: "old", Status: domain.StatusTodo, Order: 1, CreatedAt: 10},
		{ID: "new", Status: domain.StatusTodo, Order: 1, CreatedAt: 20},
		{ID: "first", Status: domain.StatusTodo, Order: 0, CreatedAt: 30},
	}

	updates, err := ComputeMove(tasks, "new", domain.StatusTodo, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "first", "old"}, columnIDs(t, tasks, updates, domain.StatusTodo))
}

func updatesByID(updates []Update) map[string]Update {
	out := make(map[string]Update, len(updates))
	for _, u := range updates {
		out[u.TaskID] = u
	}
	return out
}
