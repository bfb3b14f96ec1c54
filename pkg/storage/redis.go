package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nexthour:prediction:"

// RedisStore is a Store shared by every service instance through Redis.
// Snapshots are stored as JSON under one key per location.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A zero ttl stores keys without expiry.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Put(snap PredictionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, redisKey(snap.Location), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetLatest(loc Location) (PredictionSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, redisKey(loc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PredictionSnapshot{}, false, nil
	}
	if err != nil {
		return PredictionSnapshot{}, false, fmt.Errorf("redis get: %w: %w", ErrUnavailable, err)
	}

	var snap PredictionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return PredictionSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(loc Location) string {
	return redisKeyPrefix + loc.String()
}
