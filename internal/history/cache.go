package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/message"
)

// NewRedis connects to the configured Redis. It returns nil when no address
// is configured or the server does not answer; callers then run uncached.
func NewRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.L.Warn("redis unavailable; message cache disabled", "addr", cfg.Addr, "error", err)
		rdb.Close()
		return nil
	}
	logger.L.Info("redis message cache enabled", "addr", cfg.Addr)
	return rdb
}

// Cached keeps each conversation's message list in a Redis list in front of
// another Repository. Appends invalidate the list and bump a per-conversation
// version; the next List rebuilds the list unless the version moved while it
// was reading.
type Cached struct {
	next Repository
	rdb  *redis.Client
	ttl  time.Duration
}

// WithCache wraps next with a Redis cache, or returns next unchanged when rdb is nil.
func WithCache(next Repository, rdb *redis.Client, ttl time.Duration) Repository {
	if rdb == nil {
		return next
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func versionKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:version", conversationID)
}

func (c *Cached) Append(ctx context.Context, conversationID string, role message.Role, content string) (message.Record, error) {
	rec, err := c.next.Append(ctx, conversationID, role, content)
	if err != nil {
		return rec, err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(conversationID))
		pipe.Expire(ctx, versionKey(conversationID), c.ttl)
		pipe.Del(ctx, cacheKey(conversationID))
		return nil
	})
	if err != nil {
		logger.L.Warn("failed to invalidate cached messages", "conversation", conversationID, "error", err)
	}
	return rec, nil
}

func (c *Cached) List(ctx context.Context, conversationID string) ([]message.Record, error) {
	key := cacheKey(conversationID)
	if cached, err := c.rdb.LRange(ctx, key, 0, -1).Result(); err == nil && len(cached) > 0 {
		out := make([]message.Record, 0, len(cached))
		for _, raw := range cached {
			var rec message.Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				out = nil
				break
			}
			out = append(out, rec)
		}
		if out != nil {
			return out, nil
		}
	}

	// Read the version before the backing store so an Append landing in
	// between is detected by fill.
	version, err := c.version(ctx, c.rdb, conversationID)
	if err != nil {
		logger.L.Warn("failed to read cache version", "conversation", conversationID, "error", err)
	}
	recs, err := c.next.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if version >= 0 {
		if err := c.fill(ctx, conversationID, version, recs); err != nil {
			logger.L.Warn("failed to cache messages", "conversation", conversationID, "error", err)
		}
	}
	return recs, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// version returns the conversation's cache version, 0 when unset and -1 when
// it could not be read.
func (c *Cached) version(ctx context.Context, cmd getter, conversationID string) (int64, error) {
	v, err := cmd.Get(ctx, versionKey(conversationID)).Int64()
	switch {
	case err == redis.Nil:
		return 0, nil
	case err != nil:
		return -1, err
	}
	return v, nil
}

// fill stores recs unless an Append bumped the version since it was read.
func (c *Cached) fill(ctx context.Context, conversationID string, version int64, recs []message.Record) error {
	if len(recs) == 0 {
		return nil
	}
	key := cacheKey(conversationID)
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.version(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if current != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, rec := range recs {
				b, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, key, b)
			}
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, versionKey(conversationID))
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		logger.L.Debug("skipped caching a list read before an append", "conversation", conversationID)
		return nil
	}
	return err
}

var errStale = errors.New("history: cached list is stale")
