package domain

// Status identifies the board column a task lives in.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusBlocked, StatusDone}

// Valid reports whether s belongs to the recognized lifecycle set.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// Task represents a single board item in the read model.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	ProjectID string   `json:"projectId,omitempty"`
	AreaID    string   `json:"areaId,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Status    Status   `json:"status"`
	Order     int      `json:"order"`
	CreatedAt int64    `json:"createdAt"`
}
