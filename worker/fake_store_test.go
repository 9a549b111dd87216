package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/DeSecurity/focused-life-hq/domain"
	"github.com/DeSecurity/focused-life-hq/storage"
)

type fakeStore struct {
	tasks    map[string]storage.TaskRecord
	items    map[string]storage.ItemRecord
	settings map[string]storage.SettingsRecord

	// forceConflicts makes the next N UpdateTask calls fail with a
	// concurrency conflict regardless of the presented etag.
	forceConflicts int
	updateCalls    int
	version        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[string]storage.TaskRecord{},
		items:    map[string]storage.ItemRecord{},
		settings: map[string]storage.SettingsRecord{},
	}
}

func (f *fakeStore) putTask(rk string, status domain.Status, order int, title string) {
	o := order
	f.version++
	f.tasks[rk] = storage.TaskRecord{
		Entity: storage.Entity{PartitionKey: "user", RowKey: rk},
		Title:  title,
		Status: string(status),
		Order:  &o,
		ETag:   "v" + strconv.Itoa(f.version),
	}
}

func (f *fakeStore) FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(f.tasks))
	for _, rec := range f.tasks {
		out = append(out, rec.ToDomain())
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, pk, rk string) (*storage.TaskRecord, error) {
	rec, ok := f.tasks[rk]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, rec storage.TaskRecord) error {
	if _, exists := f.tasks[rec.RowKey]; exists {
		return storage.ErrConcurrencyConflict
	}
	f.version++
	rec.ETag = "v" + strconv.Itoa(f.version)
	f.tasks[rec.RowKey] = rec
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, patch storage.TaskPatch, etag string) error {
	f.updateCalls++
	if f.forceConflicts > 0 {
		f.forceConflicts--
		return storage.ErrConcurrencyConflict
	}
	rec, ok := f.tasks[patch.RowKey]
	if !ok {
		return fmt.Errorf("task %s not found", patch.RowKey)
	}
	if etag != "" && etag != rec.ETag {
		return storage.ErrConcurrencyConflict
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	if patch.ProjectID != nil {
		rec.ProjectID = *patch.ProjectID
	}
	if patch.AreaID != nil {
		rec.AreaID = *patch.AreaID
	}
	if patch.Tags != nil {
		rec.Tags = *patch.Tags
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Order != nil {
		o := *patch.Order
		rec.Order = &o
	}
	if patch.EventTimestamp != nil {
		rec.EventTimestamp = *patch.EventTimestamp
	}
	f.version++
	rec.ETag = "v" + strconv.Itoa(f.version)
	f.tasks[patch.RowKey] = rec
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, pk, rk string) error {
	delete(f.tasks, rk)
	return nil
}

func (f *fakeStore) GetItem(ctx context.Context, pk, rk string) (*storage.ItemRecord, error) {
	rec, ok := f.items[rk]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) UpsertItem(ctx context.Context, rec storage.ItemRecord) error {
	f.items[rec.RowKey] = rec
	return nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, pk, rk string) error {
	delete(f.items, rk)
	return nil
}

func (f *fakeStore) GetSettings(ctx context.Context, userID string) (*storage.SettingsRecord, error) {
	rec, ok := f.settings[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) UpsertSettings(ctx context.Context, rec storage.SettingsRecord) error {
	f.settings[rec.RowKey] = rec
	return nil
}
