package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/board"
	"github.com/DeSecurity/focused-life-hq/domain"
	"github.com/DeSecurity/focused-life-hq/storage"
)

// TaskStore defines the storage operations the task service needs.
type TaskStore interface {
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, pk, rk string) (*storage.TaskRecord, error)
	InsertTask(ctx context.Context, rec storage.TaskRecord) error
	UpdateTask(ctx context.Context, patch storage.TaskPatch, etag string) error
	DeleteTask(ctx context.Context, pk, rk string) error
}

// TaskService processes task commands.
type TaskService struct{ st TaskStore }

func NewTaskService(st TaskStore) TaskService { return TaskService{st: st} }

type taskCreateData struct {
	Title     string   `json:"title"`
	Notes     string   `json:"notes"`
	ProjectID string   `json:"projectId"`
	AreaID    string   `json:"areaId"`
	Tags      []string `json:"tags"`
	Status    string   `json:"status"`
}

type taskUpdateData struct {
	Title     *string   `json:"title"`
	Notes     *string   `json:"notes"`
	ProjectID *string   `json:"projectId"`
	AreaID    *string   `json:"areaId"`
	Tags      *[]string `json:"tags"`
}

type taskMoveData struct {
	Status string `json:"status"`
	Index  int    `json:"index"`
}

// Apply updates the read model for task commands.
func (s TaskService) Apply(ctx context.Context, env domain.CommandEnvelope) error {
	cmd := env.Command
	switch cmd.Type {
	case domain.CommandCreate:
		return s.applyCreate(ctx, env.UserID, cmd)
	case domain.CommandUpdate:
		return s.applyUpdate(ctx, env.UserID, cmd)
	case domain.CommandDelete:
		return s.applyDelete(ctx, env.UserID, cmd)
	case domain.CommandMove:
		var data taskMoveData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		return s.applyMove(ctx, env.UserID, cmd, domain.Status(data.Status), data.Index)
	case domain.CommandComplete:
		return s.applyMove(ctx, env.UserID, cmd, domain.StatusDone, int(^uint(0)>>1))
	case domain.CommandReopen:
		return s.applyMove(ctx, env.UserID, cmd, domain.StatusTodo, int(^uint(0)>>1))
	default:
		return fmt.Errorf("unknown task command %s", cmd.Type)
	}
}

func (s TaskService) applyCreate(ctx context.Context, userID string, cmd domain.Command) error {
	var data taskCreateData
	if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
		return err
	}
	status := domain.Status(data.Status)
	if data.Status == "" {
		status = domain.StatusBacklog
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", data.Status)
	}

	taskID := cmd.EntityID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	existing, err := s.st.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.WithFields(log.Fields{"task": taskID, "ts": cmd.Timestamp, "current": existing.EventTimestamp}).Error("duplicate create command")
		return fmt.Errorf("task %s already exists", taskID)
	}

	// New tasks land at the bottom of their column.
	tasks, err := s.st.FetchAllTasks(ctx, userID)
	if err != nil {
		return err
	}
	order := board.NextOrder(tasks, status)

	rec := storage.TaskRecord{
		Entity:         storage.Entity{PartitionKey: userID, RowKey: taskID},
		Title:          data.Title,
		Notes:          data.Notes,
		ProjectID:      data.ProjectID,
		AreaID:         data.AreaID,
		Tags:           storage.JoinTags(data.Tags),
		Status:         string(status),
		Order:          &order,
		CreatedAt:      cmd.Timestamp,
		EventTimestamp: cmd.Timestamp,
	}
	return s.st.InsertTask(ctx, rec)
}

func (s TaskService) applyUpdate(ctx context.Context, userID string, cmd domain.Command) error {
	var data taskUpdateData
	if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
		return err
	}

	patch := storage.TaskPatch{Entity: storage.Entity{PartitionKey: userID, RowKey: cmd.EntityID}}
	patch.Title = data.Title
	patch.Notes = data.Notes
	patch.ProjectID = data.ProjectID
	patch.AreaID = data.AreaID
	if data.Tags != nil {
		joined := storage.JoinTags(*data.Tags)
		patch.Tags = &joined
	}
	if patch.Empty() {
		return fmt.Errorf("task %s update had no fields", cmd.EntityID)
	}

	return s.persistPatch(ctx, userID, cmd.EntityID, patch, cmd.Timestamp, true)
}

func (s TaskService) applyDelete(ctx context.Context, userID string, cmd domain.Command) error {
	tasks, err := s.st.FetchAllTasks(ctx, userID)
	if err != nil {
		return err
	}

	var deleted *domain.Task
	remaining := make([]domain.Task, 0, len(tasks))
	for i := range tasks {
		if tasks[i].ID == cmd.EntityID {
			deleted = &tasks[i]
			continue
		}
		remaining = append(remaining, tasks[i])
	}
	if deleted == nil {
		log.WithField("task", cmd.EntityID).Warn("delete command for missing task")
		return nil
	}

	if err := s.st.DeleteTask(ctx, userID, cmd.EntityID); err != nil {
		return err
	}

	// Close the gap the deleted task left in its column.
	col := board.Column(remaining, deleted.Status)
	for i := range col {
		if col[i].Order == i {
			continue
		}
		order := i
		patch := storage.TaskPatch{
			Entity: storage.Entity{PartitionKey: userID, RowKey: col[i].ID},
			Order:  &order,
		}
		if err := s.persistPatch(ctx, userID, col[i].ID, patch, cmd.Timestamp, false); err != nil {
			return err
		}
	}
	return nil
}

// applyMove runs the ordering engine against a fresh snapshot and persists the
// minimal set of changed tasks it emits.
func (s TaskService) applyMove(ctx context.Context, userID string, cmd domain.Command, dest domain.Status, index int) error {
	tasks, err := s.st.FetchAllTasks(ctx, userID)
	if err != nil {
		return err
	}

	updates, err := board.ComputeMove(tasks, cmd.EntityID, dest, index)
	if err != nil {
		if errors.Is(err, board.ErrTaskNotFound) {
			log.WithField("task", cmd.EntityID).Warn("move command for missing task")
			return nil
		}
		return err
	}

	for _, u := range updates {
		patch := storage.TaskPatch{
			Entity: storage.Entity{PartitionKey: userID, RowKey: u.TaskID},
			Order:  u.Order,
		}
		if u.Status != nil {
			status := string(*u.Status)
			patch.Status = &status
		}
		// Staleness is only enforced for the moved task itself; neighbours
		// renumbered by the engine carry the same command timestamp.
		enforceStale := u.TaskID == cmd.EntityID
		if err := s.persistPatch(ctx, userID, u.TaskID, patch, cmd.Timestamp, enforceStale); err != nil {
			return err
		}
	}
	return nil
}

// persistPatch applies a merge update with optimistic concurrency, retrying
// on ETag conflicts. Tasks that disappear mid-flight are skipped.
func (s TaskService) persistPatch(ctx context.Context, userID, taskID string, patch storage.TaskPatch, ts int64, enforceStale bool) error {
	patch.EventTimestamp = &ts

	rec, err := s.st.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		log.WithField("task", taskID).Warn("update for missing task")
		return nil
	}
	for {
		if enforceStale && ts <= rec.EventTimestamp {
			log.WithFields(log.Fields{"task": taskID, "ts": ts, "current": rec.EventTimestamp}).Error("stale task command")
			return fmt.Errorf("task %s received stale update", taskID)
		}
		if err := s.st.UpdateTask(ctx, patch, rec.ETag); err != nil {
			if !errors.Is(err, storage.ErrConcurrencyConflict) {
				return err
			}
			rec, err = s.st.GetTask(ctx, userID, taskID)
			if err != nil {
				return err
			}
			if rec == nil {
				log.WithField("task", taskID).Warn("task disappeared during retry")
				return nil
			}
			continue
		}
		return nil
	}
}
