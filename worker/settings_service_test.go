package worker

import (
	"context"
	"testing"

	"github.com/DeSecurity/focused-life-hq/domain"
)

func settingsCommand(ts int64, data string) domain.CommandEnvelope {
	return domain.CommandEnvelope{
		UserID: "user",
		Command: domain.Command{
			EntityType: domain.EntitySettings,
			Type:       domain.CommandUpdate,
			Data:       []byte(data),
			Timestamp:  ts,
		},
	}
}

func TestSettingsUpdateCreatesFromDefaults(t *testing.T) {
	st := newFakeStore()
	svc := NewSettingsService(st)

	env := settingsCommand(100, `{"showDoneTasks":true}`)
	if err := svc.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rec, ok := st.settings["user"]
	if !ok {
		t.Fatal("expected settings record")
	}
	if !rec.ShowDoneTasks {
		t.Fatal("expected showDoneTasks true")
	}
	if rec.TasksPerColumn != 30 {
		t.Fatalf("expected default tasksPerColumn 30, got %d", rec.TasksPerColumn)
	}
	if rec.EventTimestamp != 100 {
		t.Fatalf("expected event timestamp 100, got %d", rec.EventTimestamp)
	}
}

func TestSettingsUpdateMergesFields(t *testing.T) {
	st := newFakeStore()
	svc := NewSettingsService(st)

	if err := svc.Apply(context.Background(), settingsCommand(100, `{"tasksPerColumn":12}`)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := svc.Apply(context.Background(), settingsCommand(200, `{"showDoneTasks":true}`)); err != nil {
		t.Fatalf("second update: %v", err)
	}

	rec := st.settings["user"]
	if rec.TasksPerColumn != 12 || !rec.ShowDoneTasks {
		t.Fatalf("unexpected merged settings: %+v", rec)
	}
}

func TestSettingsUpdateRejectsStale(t *testing.T) {
	st := newFakeStore()
	svc := NewSettingsService(st)

	if err := svc.Apply(context.Background(), settingsCommand(200, `{"tasksPerColumn":12}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.Apply(context.Background(), settingsCommand(100, `{"tasksPerColumn":5}`)); err == nil {
		t.Fatal("expected stale update to be rejected")
	}
	if st.settings["user"].TasksPerColumn != 12 {
		t.Fatal("stale update must not modify the record")
	}
}

func TestSettingsUpdateValidatesFields(t *testing.T) {
	st := newFakeStore()
	svc := NewSettingsService(st)

	if err := svc.Apply(context.Background(), settingsCommand(100, `{}`)); err == nil {
		t.Fatal("expected empty update to fail")
	}
	if err := svc.Apply(context.Background(), settingsCommand(100, `{"tasksPerColumn":0}`)); err == nil {
		t.Fatal("expected zero tasksPerColumn to fail")
	}
}
