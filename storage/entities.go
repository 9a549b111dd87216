package storage

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/DeSecurity/focused-life-hq/domain"
)

// ErrConcurrencyConflict indicates that the table rejected an update because
// a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

const (
	edmInt64 = "Edm.Int64"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Notes         string `json:"Notes"`
	ProjectID     string `json:"ProjectId"`
	AreaID        string `json:"AreaId"`
	Tags          string `json:"Tags"`
	Status        string `json:"Status"`
	Order         int    `json:"Order"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:        e.RowKey,
		Title:     e.Title,
		Notes:     e.Notes,
		ProjectID: e.ProjectID,
		AreaID:    e.AreaID,
		Tags:      splitTags(e.Tags),
		Status:    domain.Status(e.Status),
		Order:     e.Order,
		CreatedAt: e.CreatedAt,
	}
}

// TaskRecord is the stored shape of a task, exposed to the worker.
type TaskRecord struct {
	Entity
	Title          string `json:"Title,omitempty"`
	Notes          string `json:"Notes,omitempty"`
	ProjectID      string `json:"ProjectId,omitempty"`
	AreaID         string `json:"AreaId,omitempty"`
	Tags           string `json:"Tags,omitempty"`
	Status         string `json:"Status,omitempty"`
	Order          *int   `json:"Order,omitempty"`
	CreatedAt      int64  `json:"CreatedAt,string"`
	CreatedAtType  string `json:"CreatedAt@odata.type,omitempty"`
	EventTimestamp int64  `json:"EventTimestamp,string"`
	EventTSType    string `json:"EventTimestamp@odata.type,omitempty"`
	ETag           string `json:"odata.etag,omitempty"`
}

// ToDomain converts the stored record to the read-model task.
func (r TaskRecord) ToDomain() domain.Task {
	order := 0
	if r.Order != nil {
		order = *r.Order
	}
	return domain.Task{
		ID:        r.RowKey,
		Title:     r.Title,
		Notes:     r.Notes,
		ProjectID: r.ProjectID,
		AreaID:    r.AreaID,
		Tags:      splitTags(r.Tags),
		Status:    domain.Status(r.Status),
		Order:     order,
		CreatedAt: r.CreatedAt,
	}
}

// TaskPatch carries partial updates for a task. Nil fields are left as is.
type TaskPatch struct {
	Entity
	Title          *string `json:"Title,omitempty"`
	Notes          *string `json:"Notes,omitempty"`
	ProjectID      *string `json:"ProjectId,omitempty"`
	AreaID         *string `json:"AreaId,omitempty"`
	Tags           *string `json:"Tags,omitempty"`
	Status         *string `json:"Status,omitempty"`
	Order          *int    `json:"Order,omitempty"`
	EventTimestamp *int64  `json:"EventTimestamp,omitempty,string"`
	EventTSType    *string `json:"EventTimestamp@odata.type,omitempty"`
}

// Empty reports whether the patch changes nothing beyond the timestamp.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Notes == nil && p.ProjectID == nil &&
		p.AreaID == nil && p.Tags == nil && p.Status == nil && p.Order == nil
}

type itemEntity struct {
	aztables.Entity
	Kind          string `json:"Kind"`
	Name          string `json:"Name"`
	Notes         string `json:"Notes"`
	Color         string `json:"Color"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

func (e itemEntity) toDomain() domain.Item {
	return domain.Item{
		ID:        e.RowKey,
		Kind:      domain.ItemKind(e.Kind),
		Name:      e.Name,
		Notes:     e.Notes,
		Color:     e.Color,
		CreatedAt: e.CreatedAt,
	}
}

// ItemRecord is the stored shape of a project/idea/area/tag.
type ItemRecord struct {
	Entity
	Kind           string `json:"Kind,omitempty"`
	Name           string `json:"Name,omitempty"`
	Notes          string `json:"Notes,omitempty"`
	Color          string `json:"Color,omitempty"`
	CreatedAt      int64  `json:"CreatedAt,string"`
	CreatedAtType  string `json:"CreatedAt@odata.type,omitempty"`
	EventTimestamp int64  `json:"EventTimestamp,string"`
	EventTSType    string `json:"EventTimestamp@odata.type,omitempty"`
}

// SettingsRecord is the stored shape of per-user settings.
type SettingsRecord struct {
	Entity
	TasksPerColumn int    `json:"TasksPerColumn"`
	ShowDoneTasks  bool   `json:"ShowDoneTasks"`
	EventTimestamp int64  `json:"EventTimestamp,string"`
	EventTSType    string `json:"EventTimestamp@odata.type,omitempty"`
}

// Tags are flattened to a single column; table storage has no list type.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// invalidTokenError satisfies the API layer's InvalidContinuationTokenError
// contract so malformed page tokens surface as 400s instead of 500s.
type invalidTokenError struct{ err error }

func (e invalidTokenError) Error() string {
	return "invalid continuation token: " + e.err.Error()
}
func (e invalidTokenError) InvalidContinuationToken() {}
func (e invalidTokenError) Unwrap() error             { return e.err }

func encodeContinuationToken(partitionKey, rowKey *string) string {
	if partitionKey == nil || rowKey == nil || *partitionKey == "" || *rowKey == "" {
		return ""
	}
	pk := []byte(*partitionKey)
	rk := []byte(*rowKey)
	data := make([]byte, 8+len(pk)+len(rk))
	binary.BigEndian.PutUint32(data[0:4], uint32(len(pk)))
	binary.BigEndian.PutUint32(data[4:8], uint32(len(rk)))
	copy(data[8:], pk)
	copy(data[8+len(pk):], rk)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeContinuationToken(token string) (string, string, error) {
	if token == "" {
		return "", "", nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", invalidTokenError{err: err}
	}
	if len(data) < 8 {
		return "", "", invalidTokenError{err: errors.New("token too short")}
	}
	pkLen := binary.BigEndian.Uint32(data[0:4])
	rkLen := binary.BigEndian.Uint32(data[4:8])
	if uint64(len(data)) != 8+uint64(pkLen)+uint64(rkLen) {
		return "", "", invalidTokenError{err: errors.New("token length mismatch")}
	}
	pk := string(data[8 : 8+pkLen])
	rk := string(data[8+pkLen:])
	return pk, rk, nil
}

// escapeKey doubles single quotes so user IDs cannot break out of OData
// filter literals.
func escapeKey(key string) string {
	return strings.ReplaceAll(key, "'", "''")
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && (respErr.StatusCode == 409 || respErr.StatusCode == 412)
}

// isAlreadyExists reports whether a create failed only because the table or
// queue is already provisioned.
func isAlreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	switch respErr.ErrorCode {
	case string(aztables.TableAlreadyExists), "QueueAlreadyExists":
		return true
	}
	return false
}
