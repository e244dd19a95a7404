package archive

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// hashStore is the subset of the redis client used by RedisArchive
type hashStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisArchive writes each session as a hash under prefix+id. Recordings are
// not stored.
type RedisArchive struct {
	client hashStore
	prefix string
	ttl    time.Duration
}

// NewRedisArchive wraps a redis client. A zero ttl keeps keys forever.
func NewRedisArchive(client *redis.Client, prefix string, ttl time.Duration) *RedisArchive {
	return &RedisArchive{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the hash key for a session id
func (a *RedisArchive) Key(id string) string {
	return a.prefix + id
}

// Save writes the record fields with HSET and applies the ttl
func (a *RedisArchive) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	key := a.Key(r.ID)

	fields := map[string]interface{}{
		"id":            r.ID,
		"status":        r.Status,
		"started_at":    r.StartedAt.Format(time.RFC3339),
		"live_text":     r.LiveText,
		"diarized_text": r.DiarizedText,
		"summary":       r.Summary,
		"summary_style": r.SummaryStyle,
		"error":         r.Error,
		"error_kind":    r.ErrorKind,
	}
	if r.EndedAt != nil {
		fields["ended_at"] = r.EndedAt.Format(time.RFC3339)
	}

	if err := a.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	if a.ttl > 0 {
		if err := a.client.Expire(ctx, key, a.ttl).Err(); err != nil {
			return fmt.Errorf("redis EXPIRE %s: %w", key, err)
		}
	}
	return nil
}
