// Package redis keeps cached answers in a shared Redis instance so several
// API replicas reuse each other's validated answers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "clinical-rag:answer:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{rdb: rdb, ttl: cfg.TTL}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	answer, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return answer, true, nil
}

// Set overwrites the entry. A zero TTL keeps it until evicted.
func (s *Store) Set(ctx context.Context, key, answer string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, answer, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
