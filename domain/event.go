package domain

import "encoding/json"

// Event notifies stream subscribers that part of the read model changed.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	UserID     string          `json:"userId"`
}
