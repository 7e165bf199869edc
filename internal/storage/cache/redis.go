// Package cache mirrors each user's latest reading in Redis so dashboard
// mounts do not hit the database for the initial fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
)

const (
	keyPrefix      = "powermeter:latest:"
	resetKeyPrefix = "powermeter:reset:user:"
	resetAllKey    = "powermeter:reset:all"
	defaultTTL     = 24 * time.Hour
	maxRetries     = 3
)

// Redis holds the client and key policy for the latest-reading cache.
// A reset leaves a marker holding the reset time; readings stamped at or
// before it are never cached again.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, rc config.RedisData) (*Redis, error) {
	if rc.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", rc.Addr, err)
	}

	ttl := rc.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	log.Infof("connected to redis at %s", rc.Addr)
	return &Redis{client: client, ttl: ttl, now: time.Now}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func latestKey(userID string) string {
	return keyPrefix + userID
}

func resetKey(userID string) string {
	return resetKeyPrefix + userID
}

// resetCutoff is the latest reset affecting userID, or the zero time
func resetCutoff(ctx context.Context, tx *redis.Tx, userID string) (time.Time, error) {
	vals, err := tx.MGet(ctx, resetKey(userID), resetAllKey).Result()
	if err != nil {
		return time.Time{}, err
	}

	var cutoff time.Time
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("corrupt reset marker %q: %w", s, err)
		}
		if t := time.Unix(0, n); t.After(cutoff) {
			cutoff = t
		}
	}
	return cutoff, nil
}

// StartStorageEngine consumes distributed readings and keeps the cache current
func (c *Redis) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.SensorReading {
	log.Info("starting redis latest-reading cache engine...")
	readingChan := make(chan types.SensorReading, 32)
	wg.Add(1)
	go storage.ProcessReadings(ctx, wg, readingChan, func(r types.SensorReading) error {
		return c.Remember(ctx, r)
	}, "redis")
	return readingChan
}

// Remember stores r as the user's latest reading unless a newer one is
// already cached or r predates the user's last reset
func (c *Redis) Remember(ctx context.Context, r types.SensorReading) error {
	key := latestKey(r.UserID)
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not encode reading: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		cutoff, err := resetCutoff(ctx, tx, r.UserID)
		if err != nil {
			return err
		}
		if !r.Timestamp.After(cutoff) {
			return nil
		}

		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached types.SensorReading
			if json.Unmarshal(current, &cached) == nil && cached.Timestamp.After(r.Timestamp) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err = c.client.Watch(ctx, txf, key, resetKey(r.UserID), resetAllKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Latest returns the cached reading and whether the cache held one
func (c *Redis) Latest(ctx context.Context, userID string) (*types.SensorReading, bool, error) {
	body, err := c.client.Get(ctx, latestKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var r types.SensorReading
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false, fmt.Errorf("corrupt cached reading for %s: %w", userID, err)
	}
	return &r, true, nil
}

// Forget drops cached readings for the scope and records the reset time so
// readings still in flight cannot repopulate the cache
func (c *Redis) Forget(ctx context.Context, scope storage.Scope) error {
	marker := strconv.FormatInt(c.now().UnixNano(), 10)
	if !scope.All {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, resetKey(scope.UserID), marker, c.ttl)
			pipe.Del(ctx, latestKey(scope.UserID))
			return nil
		})
		return err
	}

	if err := c.client.Set(ctx, resetAllKey, marker, c.ttl).Err(); err != nil {
		return err
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// CheckHealth pings the Redis server
func (c *Redis) CheckHealth(ctx context.Context) *config.StorageHealthData {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "redis ping failed", err)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "redis connection active", nil)
}

// Close releases the client
func (c *Redis) Close() error {
	return c.client.Close()
}

// ReadThrough decorates a ReadingStore so LatestReading consults the cache
// first and deletions invalidate it
type ReadThrough struct {
	storage.ReadingStore
	cache *Redis
}

// NewReadThrough wraps store with cache
func NewReadThrough(store storage.ReadingStore, cache *Redis) *ReadThrough {
	return &ReadThrough{ReadingStore: store, cache: cache}
}

// LatestReading serves from Redis when possible and back-fills on a miss
func (rt *ReadThrough) LatestReading(ctx context.Context, userID string) (*types.SensorReading, error) {
	r, ok, err := rt.cache.Latest(ctx, userID)
	if err != nil {
		log.Warnw("redis latest lookup failed, falling back to database", "user_id", userID, "error", err)
	}
	if ok {
		return r, nil
	}

	r, err = rt.ReadingStore.LatestReading(ctx, userID)
	if err != nil || r == nil {
		return r, err
	}
	if err := rt.cache.Remember(ctx, *r); err != nil {
		log.Warnw("could not back-fill redis cache", "user_id", userID, "error", err)
	}
	return r, nil
}

// DeleteReadings deletes from the store, then drops the cached rows
func (rt *ReadThrough) DeleteReadings(ctx context.Context, scope storage.Scope) (int64, error) {
	n, err := rt.ReadingStore.DeleteReadings(ctx, scope)
	if err != nil {
		return n, err
	}
	if err := rt.cache.Forget(ctx, scope); err != nil {
		log.Warnw("could not invalidate redis cache", "error", err)
	}
	return n, nil
}
