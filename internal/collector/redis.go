// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-pinguard/pkg/report"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key prefixes the list and count keys. Required.
	Key string

	// MaxReports bounds the stored list. Required.
	MaxReports int
}

// RedisStore keeps reports in a capped Redis list plus a per-host counter
// hash, so that several collectors can share one history.
type RedisStore struct {
	client    *redis.Client
	listKey   string
	countsKey string
	max       int64
}

// NewRedisStore creates a RedisStore. The connection is established lazily.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil || cfg.Addr == "" || cfg.Key == "" || cfg.MaxReports <= 0 {
		return nil, ErrInvalidConfig
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client:    client,
		listKey:   cfg.Key + ":list",
		countsKey: cfg.Key + ":hosts",
		max:       int64(cfg.MaxReports),
	}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, r *report.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.listKey, body)
		pipe.LTrim(ctx, s.listKey, 0, s.max-1)
		pipe.HIncrBy(ctx, s.countsKey, strings.ToLower(r.Host), 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}

// List implements Store. Host filtering scans the capped list.
func (s *RedisStore) List(ctx context.Context, host string, limit int) ([]report.Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	stop := int64(limit) - 1
	if host != "" {
		stop = s.max - 1
	}
	raw, err := s.client.LRange(ctx, s.listKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	out := make([]report.Report, 0, min(limit, len(raw)))
	for _, item := range raw {
		var r report.Report
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		if host != "" && !strings.EqualFold(r.Host, host) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Summary implements Store.
func (s *RedisStore) Summary(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.countsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	out := make(map[string]int64, len(raw))
	for host, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[host] = n
	}
	return out, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
