// Package state caches the active alert rules of each unit so the ingest
// path does not hit the config database for every point.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chillerhub/internal/models"
)

// KeyPrefix namespaces every key written by the rule cache.
const KeyPrefix = "chillerhub:rules:unit:"

// RuleCache stores the active rules of a unit.
type RuleCache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, unitID int64) (rules []models.AlertRule, ok bool, err error)
	Set(ctx context.Context, unitID int64, rules []models.AlertRule) error
	Invalidate(ctx context.Context, unitID int64) error
	Close() error
}

// RedisRuleCache keeps rule lists as JSON values with a TTL.
type RedisRuleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisRuleCache connects to Redis. The connection is verified lazily;
// use Ping to check it at startup.
func NewRedisRuleCache(opts RedisOptions) *RedisRuleCache {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return NewRedisRuleCacheWithClient(client, opts.TTL)
}

// NewRedisRuleCacheWithClient wraps an existing client.
func NewRedisRuleCacheWithClient(client *redis.Client, ttl time.Duration) *RedisRuleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRuleCache{client: client, ttl: ttl}
}

// Key is the Redis key for a unit's rules.
func Key(unitID int64) string {
	return KeyPrefix + strconv.FormatInt(unitID, 10)
}

func (c *RedisRuleCache) Get(ctx context.Context, unitID int64) ([]models.AlertRule, bool, error) {
	data, err := c.client.Get(ctx, Key(unitID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rules from Redis: %w", err)
	}

	var rules []models.AlertRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached rules: %w", err)
	}
	return rules, true, nil
}

func (c *RedisRuleCache) Set(ctx context.Context, unitID int64, rules []models.AlertRule) error {
	if rules == nil {
		rules = []models.AlertRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	if err := c.client.Set(ctx, Key(unitID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rules in Redis: %w", err)
	}
	return nil
}

func (c *RedisRuleCache) Invalidate(ctx context.Context, unitID int64) error {
	if err := c.client.Del(ctx, Key(unitID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached rules: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisRuleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRuleCache) Close() error {
	return c.client.Close()
}

type noopCache struct{}

// NewNoopCache returns a cache that never holds anything.
func NewNoopCache() RuleCache { return noopCache{} }

func (noopCache) Get(ctx context.Context, unitID int64) ([]models.AlertRule, bool, error) {
	return nil, false, nil
}
func (noopCache) Set(ctx context.Context, unitID int64, rules []models.AlertRule) error { return nil }
func (noopCache) Invalidate(ctx context.Context, unitID int64) error                    { return nil }
func (noopCache) Close() error                                                          { return nil }
