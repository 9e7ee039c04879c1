package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "linkguard:decision:"

// RedisStore keeps decision snapshots in Redis so several controller
// replicas, or external dashboards, can read the latest decision per link.
// Snapshots expire after the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to Redis at addr and verifies the connection.
// A zero ttl defaults to 30 minutes.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func redisKey(link string) string { return redisKeyPrefix + link }

// Put stores the snapshot under "linkguard:decision:{link}".
func (r *RedisStore) Put(ctx context.Context, s DecisionSnapshot) error {
	if err := ValidateLinkName(s.Link); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(s.Link), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot in redis: %w", err)
	}
	return nil
}

// GetLatest returns the snapshot of link. found is false when the key is
// missing or expired.
func (r *RedisStore) GetLatest(ctx context.Context, link string) (DecisionSnapshot, bool, error) {
	if err := ValidateLinkName(link); err != nil {
		return DecisionSnapshot{}, false, err
	}

	data, err := r.client.Get(ctx, redisKey(link)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DecisionSnapshot{}, false, nil
		}
		return DecisionSnapshot{}, false, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snapshot DecisionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return DecisionSnapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Close closes the client. Safe to call more than once.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return redis.ErrClosed
	}
	return r.client.Ping(ctx).Err()
}
