package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DeSecurity/focused-life-hq/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error)
	FetchItems(ctx context.Context, userID string, kind domain.ItemKind) ([]domain.Item, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Redis failures never surface to callers; reads fall back to
// the backing storage.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

type cachedTaskPage struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// FetchTasks serves the first page from cache when possible. Continuation
// pages always go to the backing storage; their token encodes a position the
// cache cannot know about.
func (c *Cache) FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error) {
	cacheable := continuationToken == "" && limit <= 0
	if cacheable {
		if page, ok := c.loadTasksFromCache(ctx, userID); ok {
			return page.Tasks, page.NextPageToken, nil
		}
	}

	tasks, nextToken, err := c.base.FetchTasks(ctx, userID, continuationToken, limit)
	if err != nil {
		return nil, "", err
	}
	if cacheable {
		c.storeTasks(ctx, userID, cachedTaskPage{Tasks: tasks, NextPageToken: nextToken})
	}
	return tasks, nextToken, nil
}

func (c *Cache) FetchItems(ctx context.Context, userID string, kind domain.ItemKind) ([]domain.Item, error) {
	if items, ok := c.loadItemsFromCache(ctx, userID, kind); ok {
		return items, nil
	}

	items, err := c.base.FetchItems(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	c.storeItems(ctx, userID, kind, items)
	return items, nil
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	c.storeSettings(ctx, userID, settings)
	return settings, nil
}

// EnqueueCommands forwards to the backing storage and evicts the user's
// cache entries so subsequent reads see the worker's writes.
func (c *Cache) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueCommands(ctx, userID, cmds); err != nil {
		return err
	}

	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) (cachedTaskPage, bool) {
	var page cachedTaskPage
	if c.redis == nil {
		return page, false
	}
	data, err := c.redis.Get(ctx, TasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, TasksCacheKey(userID)).Err()
		}
		return page, false
	}
	if err := json.Unmarshal(data, &page); err != nil {
		_ = c.redis.Del(ctx, TasksCacheKey(userID)).Err()
		return page, false
	}
	return page, true
}

func (c *Cache) loadItemsFromCache(ctx context.Context, userID string, kind domain.ItemKind) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, ItemsCacheKey(userID, kind)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, ItemsCacheKey(userID, kind)).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, ItemsCacheKey(userID, kind)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, SettingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, SettingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, SettingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, page cachedTaskPage) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, TasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) storeItems(ctx context.Context, userID string, kind domain.ItemKind, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, ItemsCacheKey(userID, kind), data, c.ttl).Err()
}

func (c *Cache) storeSettings(ctx context.Context, userID string, settings domain.Settings) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, SettingsCacheKey(userID), data, c.ttl).Err()
}

// Evict drops every cached entry for a user. The worker calls it after
// applying commands so reads converge on the new read model.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	keys := []string{TasksCacheKey(userID), SettingsCacheKey(userID)}
	for _, kind := range []domain.ItemKind{domain.KindProject, domain.KindIdea, domain.KindArea, domain.KindTag} {
		keys = append(keys, ItemsCacheKey(userID, kind))
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

// Cache key layout is shared with the worker's refresher.

func TasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func ItemsCacheKey(userID string, kind domain.ItemKind) string {
	return "items:" + string(kind) + ":" + userID
}

func SettingsCacheKey(userID string) string {
	return "settings:" + userID
}
