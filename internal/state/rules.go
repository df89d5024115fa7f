package state

import (
	"context"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
)

// RuleSource loads active rules from the system of record.
type RuleSource interface {
	ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error)
}

// CachedRules reads through a RuleCache. Cache failures are logged and the
// source is used instead; they never fail a lookup.
type CachedRules struct {
	source RuleSource
	cache  RuleCache
}

// NewCachedRules creates a read-through rule source. A nil cache disables
// caching.
func NewCachedRules(source RuleSource, cache RuleCache) *CachedRules {
	if cache == nil {
		cache = NewNoopCache()
	}
	return &CachedRules{source: source, cache: cache}
}

// ActiveRulesForUnit returns the unit's active rules.
func (c *CachedRules) ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error) {
	log := logger.WithComponent("rule_cache")

	rules, ok, err := c.cache.Get(ctx, unitID)
	switch {
	case err != nil:
		metrics.RuleCacheTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Int64("unit_id", unitID).Msg("rule cache read failed, using database")
	case ok:
		metrics.RuleCacheTotal.WithLabelValues("hit").Inc()
		return rules, nil
	default:
		metrics.RuleCacheTotal.WithLabelValues("miss").Inc()
	}

	rules, err = c.source.ActiveRulesForUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, unitID, rules); err != nil {
		log.Warn().Err(err).Int64("unit_id", unitID).Msg("rule cache write failed")
	}
	return rules, nil
}

// Invalidate drops the cached rules of a unit after a rule write.
func (c *CachedRules) Invalidate(ctx context.Context, unitID int64) {
	if err := c.cache.Invalidate(ctx, unitID); err != nil {
		logger.WithComponent("rule_cache").Warn().
			Err(err).
			Int64("unit_id", unitID).
			Msg("rule cache invalidation failed, entry expires with its TTL")
	}
}

// Close releases the cache connection.
func (c *CachedRules) Close() error {
	return c.cache.Close()
}
