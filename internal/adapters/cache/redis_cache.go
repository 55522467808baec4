package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secwatch/account-security/internal/domain"
)

// RedisScanCache stores scan results in Redis with a fixed TTL
type RedisScanCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisScanCache connects to addr and verifies the connection
func NewRedisScanCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisScanCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisScanCache{rdb: rdb, ttl: ttl}, nil
}

func scanKey(fingerprint, normalizedURL string) string {
	return "scan:" + fingerprint + ":" + normalizedURL
}

// Get returns nil, nil on a miss
func (c *RedisScanCache) Get(ctx context.Context, fingerprint, normalizedURL string) (*domain.ScanResult, error) {
	raw, err := c.rdb.Get(ctx, scanKey(fingerprint, normalizedURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan cache: %w", err)
	}

	var result domain.ScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached scan: %w", err)
	}
	return &result, nil
}

// Set stores result under the key for the configured TTL
func (c *RedisScanCache) Set(ctx context.Context, fingerprint, normalizedURL string, result *domain.ScanResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan: %w", err)
	}
	if err := c.rdb.SetEx(ctx, scanKey(fingerprint, normalizedURL), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write scan cache: %w", err)
	}
	return nil
}

// Close closes the client
func (c *RedisScanCache) Close() error {
	return c.rdb.Close()
}
