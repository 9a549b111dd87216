package worker

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/domain"
	"github.com/DeSecurity/focused-life-hq/storage"
)

// SettingsStore defines the storage operations the settings service needs.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*storage.SettingsRecord, error)
	UpsertSettings(ctx context.Context, rec storage.SettingsRecord) error
}

// SettingsService processes per-user settings commands.
type SettingsService struct{ st SettingsStore }

func NewSettingsService(st SettingsStore) SettingsService { return SettingsService{st: st} }

type settingsUpdateData struct {
	TasksPerColumn *int  `json:"tasksPerColumn"`
	ShowDoneTasks  *bool `json:"showDoneTasks"`
}

// Apply updates the read model for settings commands.
func (s SettingsService) Apply(ctx context.Context, env domain.CommandEnvelope) error {
	cmd := env.Command
	if cmd.Type != domain.CommandUpdate {
		return fmt.Errorf("unknown settings command %s", cmd.Type)
	}

	var data settingsUpdateData
	if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
		return err
	}
	if data.TasksPerColumn == nil && data.ShowDoneTasks == nil {
		return fmt.Errorf("settings update for user %s had no fields", env.UserID)
	}
	if data.TasksPerColumn != nil && *data.TasksPerColumn <= 0 {
		return fmt.Errorf("invalid tasksPerColumn %d", *data.TasksPerColumn)
	}

	rec, err := s.st.GetSettings(ctx, env.UserID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &storage.SettingsRecord{
			Entity:         storage.Entity{PartitionKey: env.UserID, RowKey: env.UserID},
			TasksPerColumn: 30,
		}
	} else if cmd.Timestamp <= rec.EventTimestamp {
		log.WithFields(log.Fields{"user": env.UserID, "ts": cmd.Timestamp, "current": rec.EventTimestamp}).Error("stale settings command")
		return fmt.Errorf("settings for user %s received stale update", env.UserID)
	}

	if data.TasksPerColumn != nil {
		rec.TasksPerColumn = *data.TasksPerColumn
	}
	if data.ShowDoneTasks != nil {
		rec.ShowDoneTasks = *data.ShowDoneTasks
	}
	rec.EventTimestamp = cmd.Timestamp
	return s.st.UpsertSettings(ctx, *rec)
}
