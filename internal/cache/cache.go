package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Client exposes the underlying connection so the session store can share it
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Video metadata is cached per access key. scope is a fingerprint of the key,
// never the key itself.

func videoKey(scope string, libraryID int64, videoID string) string {
	return fmt.Sprintf("video:%s:%d:%s", scope, libraryID, videoID)
}

// SetVideo caches video metadata
func (c *Cache) SetVideo(ctx context.Context, scope string, libraryID int64, videoID string, video models.VideoMetadata, ttl time.Duration) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	return c.client.Set(ctx, videoKey(scope, libraryID, videoID), data, ttl).Err()
}

// GetVideo retrieves video metadata from cache. A miss returns nil, nil.
func (c *Cache) GetVideo(ctx context.Context, scope string, libraryID int64, videoID string) (models.VideoMetadata, error) {
	data, err := c.client.Get(ctx, videoKey(scope, libraryID, videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	video, err := models.DecodeVideoMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	return video, nil
}

// InvalidateLibrary drops every cached video of a library for one key scope
func (c *Cache) InvalidateLibrary(ctx context.Context, scope string, libraryID int64) error {
	return c.DeletePattern(ctx, fmt.Sprintf("video:%s:%d:*", scope, libraryID))
}

// Export status

// SetExport caches an export job for status polling
func (c *Cache) SetExport(ctx context.Context, job *models.ExportJob, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("export:%s", job.ID), job, ttl)
}

// GetExport retrieves an export job from cache. A miss returns nil, nil.
func (c *Cache) GetExport(ctx context.Context, exportID string) (*models.ExportJob, error) {
	var job models.ExportJob
	found, err := c.getJSON(ctx, fmt.Sprintf("export:%s", exportID), &job)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// Locking

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
