package api

import "github.com/DeSecurity/focused-life-hq/domain"

// Command batches larger than this are rejected outright; a legitimate batch
// of board edits is a few hundred bytes.
const postCommandMaxSize = 64 * 1024

// GET /api/tasks
type tasksResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// GET /api/board and the SSE snapshots pushed on /api/stream
type boardResponse struct {
	Columns map[domain.Status][]domain.Task `json:"columns"`
}

// GET /api/items
type itemsResponse struct {
	Items []domain.Item `json:"items"`
}

// POST /api/commands
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}
