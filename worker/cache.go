package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/domain"
	"github.com/DeSecurity/focused-life-hq/storage"
)

// cacheStore reads fresh data for cache refreshes. It must be the raw storage
// layer, not the caching wrapper, or refreshes would read their own output.
type cacheStore interface {
	FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error)
	FetchItems(ctx context.Context, userID string, kind domain.ItemKind) ([]domain.Item, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
}

// Refresher rewrites a user's cache entries after the worker applies a
// command, so API reads converge without waiting for a cache miss. All
// failures are logged and swallowed; the cache is best effort.
type Refresher struct {
	store cacheStore
	redis *redis.Client
	ttl   time.Duration
}

func NewRefresher(store cacheStore, client *redis.Client, ttl time.Duration) *Refresher {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Refresher{store: store, redis: client, ttl: ttl}
}

// cachedTaskPage mirrors the entry shape the API's read-through cache uses.
type cachedTaskPage struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (r *Refresher) RefreshTasks(ctx context.Context, userID string) {
	if r == nil || r.redis == nil {
		return
	}
	tasks, nextToken, err := r.store.FetchTasks(ctx, userID, "", 0)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to fetch tasks for cache refresh")
		return
	}
	data, err := json.Marshal(cachedTaskPage{Tasks: tasks, NextPageToken: nextToken})
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to marshal tasks cache entry")
		return
	}
	if err := r.redis.Set(ctx, storage.TasksCacheKey(userID), data, r.ttl).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to store tasks cache entry")
	}
}

func (r *Refresher) RefreshItems(ctx context.Context, userID string, kind domain.ItemKind) {
	if r == nil || r.redis == nil {
		return
	}
	if !kind.Valid() {
		return
	}
	items, err := r.store.FetchItems(ctx, userID, kind)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to fetch items for cache refresh")
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to marshal items cache entry")
		return
	}
	if err := r.redis.Set(ctx, storage.ItemsCacheKey(userID, kind), data, r.ttl).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to store items cache entry")
	}
}

func (r *Refresher) RefreshSettings(ctx context.Context, userID string) {
	if r == nil || r.redis == nil {
		return
	}
	settings, err := r.store.FetchSettings(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to fetch settings for cache refresh")
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to marshal settings cache entry")
		return
	}
	if err := r.redis.Set(ctx, storage.SettingsCacheKey(userID), data, r.ttl).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to store settings cache entry")
	}
}
