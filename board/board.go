// Package board contains the pure ordering logic behind the Kanban view:
// grouping tasks into status columns and recomputing (status, order)
// assignments when a task is moved. It performs no I/O so it can be driven
// by any snapshot of the read model.
package board

import (
	"sort"

	"github.com/DeSecurity/focused-life-hq/domain"
)

// GroupByStatus projects a flat task list into per-status columns, each
// sorted by (order, createdAt, id). Tasks whose status is outside the
// recognized lifecycle set are omitted rather than rejected.
func GroupByStatus(tasks []domain.Task) map[domain.Status][]domain.Task {
	columns := make(map[domain.Status][]domain.Task, len(domain.Statuses))
	for _, s := range domain.Statuses {
		columns[s] = []domain.Task{}
	}
	for _, t := range tasks {
		if !t.Status.Valid() {
			continue
		}
		columns[t.Status] = append(columns[t.Status], t)
	}
	for s := range columns {
		sortColumn(columns[s])
	}
	return columns
}

// Column returns the sorted column for a single status.
func Column(tasks []domain.Task, status domain.Status) []domain.Task {
	col := []domain.Task{}
	for _, t := range tasks {
		if t.Status == status {
			col = append(col, t)
		}
	}
	sortColumn(col)
	return col
}

// NextOrder returns the order a newly created task should receive so it is
// appended to the end of its column.
func NextOrder(tasks []domain.Task, status domain.Status) int {
	n := 0
	for _, t := range tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// sortColumn orders a column by order ascending with createdAt, then id, as
// tie-breaks. The extra id comparison keeps the sequence deterministic even
// for tasks created in the same millisecond.
func sortColumn(col []domain.Task) {
	sort.SliceStable(col, func(i, j int) bool {
		if col[i].Order != col[j].Order {
			return col[i].Order < col[j].Order
		}
		if col[i].CreatedAt != col[j].CreatedAt {
			return col[i].CreatedAt < col[j].CreatedAt
		}
		return col[i].ID < col[j].ID
	})
}
