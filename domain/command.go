package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Command types accepted on the write path.
const (
	CommandCreate   = "create"
	CommandUpdate   = "update"
	CommandDelete   = "delete"
	CommandMove     = "move"
	CommandComplete = "complete"
	CommandReopen   = "reopen"
)

// Entity types a command may target.
const (
	EntityTask     = "task"
	EntityItem     = "item"
	EntitySettings = "settings"
)

// Command represents a write request for the domain model.
type Command struct {
	// ID carries the idempotency key when enqueued to the command queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityID       string                 `json:"entityId,omitempty"`
	EntityType     string                 `json:"entityType"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// Validate checks that the command names a known entity type and a command
// type that applies to it. Payload contents are validated by the worker.
func (c Command) Validate() error {
	switch c.EntityType {
	case EntityTask:
		switch c.Type {
		case CommandCreate, CommandUpdate, CommandDelete, CommandMove, CommandComplete, CommandReopen:
			return nil
		}
	case EntityItem:
		switch c.Type {
		case CommandCreate, CommandUpdate, CommandDelete:
			return nil
		}
	case EntitySettings:
		if c.Type == CommandUpdate {
			return nil
		}
	default:
		return fmt.Errorf("unknown entity type %q", c.EntityType)
	}
	return fmt.Errorf("command type %q not valid for entity %q", c.Type, c.EntityType)
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}
