// Package worker consumes commands from the storage queue and applies them to
// the read model tables. It is the only writer; the API layer never mutates
// tables directly.
package worker

import (
	"context"
	"fmt"

	"github.com/DeSecurity/focused-life-hq/domain"
)

// Orchestrator routes commands to the appropriate service based on entity type.
type Orchestrator struct {
	tasks    TaskService
	items    ItemService
	settings SettingsService
}

func NewOrchestrator(tasks TaskService, items ItemService, settings SettingsService) Orchestrator {
	return Orchestrator{tasks: tasks, items: items, settings: settings}
}

// Apply delegates command handling to the corresponding service.
func (o Orchestrator) Apply(ctx context.Context, env domain.CommandEnvelope) error {
	switch env.Command.EntityType {
	case domain.EntityTask:
		return o.tasks.Apply(ctx, env)
	case domain.EntityItem:
		return o.items.Apply(ctx, env)
	case domain.EntitySettings:
		return o.settings.Apply(ctx, env)
	default:
		return fmt.Errorf("unknown entity type %s", env.Command.EntityType)
	}
}
