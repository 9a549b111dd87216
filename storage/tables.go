package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Write-side table operations used by the command worker.

// GetTask retrieves a task record if present. A nil record means not found.
func (s *Storage) GetTask(ctx context.Context, pk, rk string) (*TaskRecord, error) {
	ent, err := s.taskTable.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec TaskRecord
	if err := json.Unmarshal(ent.Value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertTask creates a task record; a record with the same keys is a conflict.
func (s *Storage) InsertTask(ctx context.Context, rec TaskRecord) error {
	rec.CreatedAtType = edmInt64
	rec.EventTSType = edmInt64
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// UpdateTask merges a patch into an existing task record. When etag is
// non-empty the update only applies if the stored version still matches;
// otherwise any version is overwritten.
func (s *Storage) UpdateTask(ctx context.Context, patch TaskPatch, etag string) error {
	if patch.EventTimestamp != nil {
		t := edmInt64
		patch.EventTSType = &t
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if etag != "" {
		et = azcore.ETag(etag)
	}
	opts := &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}
	if _, err := s.taskTable.UpdateEntity(ctx, payload, opts); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// DeleteTask removes a task record. Deleting a missing task is not an error.
func (s *Storage) DeleteTask(ctx context.Context, pk, rk string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, pk, rk, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// GetItem retrieves an item record if present.
func (s *Storage) GetItem(ctx context.Context, pk, rk string) (*ItemRecord, error) {
	ent, err := s.itemTable.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec ItemRecord
	if err := json.Unmarshal(ent.Value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertItem creates or replaces an item record.
func (s *Storage) UpsertItem(ctx context.Context, rec ItemRecord) error {
	rec.CreatedAtType = edmInt64
	rec.EventTSType = edmInt64
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.itemTable.UpsertEntity(ctx, payload, nil)
	return err
}

// DeleteItem removes an item record. Deleting a missing item is not an error.
func (s *Storage) DeleteItem(ctx context.Context, pk, rk string) error {
	if _, err := s.itemTable.DeleteEntity(ctx, pk, rk, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// GetSettings retrieves the stored settings record if present.
func (s *Storage) GetSettings(ctx context.Context, userID string) (*SettingsRecord, error) {
	ent, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec SettingsRecord
	if err := json.Unmarshal(ent.Value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertSettings creates or replaces the settings record for a user.
func (s *Storage) UpsertSettings(ctx context.Context, rec SettingsRecord) error {
	rec.EventTSType = edmInt64
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, payload, nil)
	return err
}
