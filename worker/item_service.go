package worker

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/domain"
	"github.com/DeSecurity/focused-life-hq/storage"
)

// ItemStore defines the storage operations the item service needs.
type ItemStore interface {
	GetItem(ctx context.Context, pk, rk string) (*storage.ItemRecord, error)
	UpsertItem(ctx context.Context, rec storage.ItemRecord) error
	DeleteItem(ctx context.Context, pk, rk string) error
}

// ItemService processes commands for projects, ideas, areas and tags.
type ItemService struct{ st ItemStore }

func NewItemService(st ItemStore) ItemService { return ItemService{st: st} }

type itemCreateData struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
	Color string `json:"color"`
}

type itemUpdateData struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
	Color *string `json:"color"`
}

// Apply updates the read model for item commands.
func (s ItemService) Apply(ctx context.Context, env domain.CommandEnvelope) error {
	cmd := env.Command
	pk := env.UserID
	switch cmd.Type {
	case domain.CommandCreate:
		var data itemCreateData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		if !domain.ItemKind(data.Kind).Valid() {
			return fmt.Errorf("invalid item kind %q", data.Kind)
		}
		itemID := cmd.EntityID
		if itemID == "" {
			itemID = uuid.NewString()
		}
		rec := storage.ItemRecord{
			Entity:         storage.Entity{PartitionKey: pk, RowKey: itemID},
			Kind:           data.Kind,
			Name:           data.Name,
			Notes:          data.Notes,
			Color:          data.Color,
			CreatedAt:      cmd.Timestamp,
			EventTimestamp: cmd.Timestamp,
		}
		return s.st.UpsertItem(ctx, rec)
	case domain.CommandUpdate:
		var data itemUpdateData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		rec, err := s.st.GetItem(ctx, pk, cmd.EntityID)
		if err != nil {
			return err
		}
		if rec == nil {
			log.WithField("item", cmd.EntityID).Error("update command for missing item")
			return fmt.Errorf("item %s not found", cmd.EntityID)
		}
		if cmd.Timestamp <= rec.EventTimestamp {
			log.WithFields(log.Fields{"item": cmd.EntityID, "ts": cmd.Timestamp, "current": rec.EventTimestamp}).Error("stale item command")
			return fmt.Errorf("item %s received stale update", cmd.EntityID)
		}
		if data.Name != nil {
			rec.Name = *data.Name
		}
		if data.Notes != nil {
			rec.Notes = *data.Notes
		}
		if data.Color != nil {
			rec.Color = *data.Color
		}
		rec.EventTimestamp = cmd.Timestamp
		return s.st.UpsertItem(ctx, *rec)
	case domain.CommandDelete:
		return s.st.DeleteItem(ctx, pk, cmd.EntityID)
	default:
		return fmt.Errorf("unknown item command %s", cmd.Type)
	}
}
