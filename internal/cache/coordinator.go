// Package cache coordinates the fast and durable cache tiers behind a single
// interface. Callers never see which tier answered.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/metrics"
	"github.com/sells-group/cafe-cli/internal/model"
)

// Config holds cache lifetimes and persistence thresholds.
type Config struct {
	SearchTTL        time.Duration `yaml:"search_ttl" mapstructure:"search_ttl"`                 // fast tier, default 1h
	DurableSearchTTL time.Duration `yaml:"durable_search_ttl" mapstructure:"durable_search_ttl"` // default 24h
	AnalysisTTL      time.Duration `yaml:"analysis_ttl" mapstructure:"analysis_ttl"`             // default 7d
	AnalysisFlagTTL  time.Duration `yaml:"analysis_flag_ttl" mapstructure:"analysis_flag_ttl"`   // default 1h
	VibeThreshold    float64       `yaml:"vibe_threshold" mapstructure:"vibe_threshold"`
	AmenityThreshold float64       `yaml:"amenity_threshold" mapstructure:"amenity_threshold"`
}

// DefaultConfig returns the standard lifetimes.
func DefaultConfig() Config {
	return Config{
		SearchTTL:        time.Hour,
		DurableSearchTTL: 24 * time.Hour,
		AnalysisTTL:      7 * 24 * time.Hour,
		AnalysisFlagTTL:  time.Hour,
		VibeThreshold:    model.VibeThreshold,
		AmenityThreshold: model.AmenityThreshold,
	}
}

// Coordinator implements read-through/write-through over a FastTier and a
// DurableTier. Tier failures degrade to misses and are never surfaced from
// lookups.
type Coordinator struct {
	fast    FastTier
	durable DurableTier
	cfg     Config
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. Zero durations and negative thresholds in cfg
// take the defaults; a zero threshold stores every positive confidence.
func New(fast FastTier, durable DurableTier, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = def.SearchTTL
	}
	if cfg.DurableSearchTTL <= 0 {
		cfg.DurableSearchTTL = def.DurableSearchTTL
	}
	if cfg.AnalysisTTL <= 0 {
		cfg.AnalysisTTL = def.AnalysisTTL
	}
	if cfg.AnalysisFlagTTL <= 0 {
		cfg.AnalysisFlagTTL = def.AnalysisFlagTTL
	}
	if cfg.VibeThreshold < 0 {
		cfg.VibeThreshold = def.VibeThreshold
	}
	if cfg.AmenityThreshold < 0 {
		cfg.AmenityThreshold = def.AmenityThreshold
	}
	c := &Coordinator{fast: fast, durable: durable, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SearchKey derives the cache key for a search. Coordinates are rounded to
// four decimal places so nearby requests share an entry.
func SearchKey(lat, lng float64, radiusMeters int, tier model.PriceTier) string {
	key := fmt.Sprintf("%s,%s:%d", round4(lat), round4(lng), radiusMeters)
	if tier.Specified() {
		key += ":" + string(tier)
	}
	return key
}

func round4(v float64) string {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		r = 0 // normalize -0
	}
	return strconv.FormatFloat(r, 'f', 4, 64)
}

func searchFastKey(key string) string { return "search:" + key }

func analysisFastKey(id int64) string { return "analysis:" + strconv.FormatInt(id, 10) }

// GetSearchResults returns the ordered cafe IDs cached under key. A durable
// hit backfills the fast tier; a durable entry past its TTL is deleted and
// reported as a miss.
func (c *Coordinator) GetSearchResults(ctx context.Context, key string) ([]int64, bool) {
	log := zap.L().With(zap.String("search_key", key))

	raw, ok, err := c.fast.Get(ctx, searchFastKey(key))
	switch {
	case err != nil:
		c.tierError(log, metrics.TierFast, "get_search", err)
	case ok:
		var ids []int64
		if jerr := json.Unmarshal(raw, &ids); jerr == nil {
			metrics.CacheLookups.WithLabelValues("search", metrics.TierFast, metrics.OutcomeHit).Inc()
			return ids, true
		}
		log.Warn("cache: discarding undecodable fast-tier entry")
	default:
		metrics.CacheLookups.WithLabelValues("search", metrics.TierFast, metrics.OutcomeMiss).Inc()
	}

	entry, err := c.durable.GetSearchCache(ctx, key)
	if err != nil {
		c.tierError(log, metrics.TierDurable, "get_search", err)
		return nil, false
	}
	if entry == nil {
		metrics.CacheLookups.WithLabelValues("search", metrics.TierDurable, metrics.OutcomeMiss).Inc()
		return nil, false
	}

	age := c.now().Sub(entry.UpdatedAt)
	if age > c.cfg.DurableSearchTTL {
		metrics.CacheLookups.WithLabelValues("search", metrics.TierDurable, metrics.OutcomeStale).Inc()
		if derr := c.durable.DeleteSearchCache(ctx, key); derr != nil {
			c.tierError(log, metrics.TierDurable, "delete_stale_search", derr)
		}
		log.Debug("cache: durable search entry expired", zap.Duration("age", age))
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("search", metrics.TierDurable, metrics.OutcomeHit).Inc()
	c.setFastSearch(ctx, log, key, entry.CafeIDs, min(c.cfg.SearchTTL, c.cfg.DurableSearchTTL-age))
	return entry.CafeIDs, true
}

// PutSearchResults writes ids to both tiers. Only a durable failure is
// returned; a fast-tier failure is logged.
func (c *Coordinator) PutSearchResults(ctx context.Context, key string, ids []int64) error {
	log := zap.L().With(zap.String("search_key", key))

	var derr error
	if err := c.durable.PutSearchCache(ctx, key, ids, c.now()); err != nil {
		c.tierError(log, metrics.TierDurable, "put_search", err)
		derr = eris.Wrapf(err, "cache: put search %s", key)
	}
	c.setFastSearch(ctx, log, key, ids, c.cfg.SearchTTL)
	return derr
}

// InvalidateSearch evicts key from both tiers.
func (c *Coordinator) InvalidateSearch(ctx context.Context, key string) error {
	log := zap.L().With(zap.String("search_key", key))
	if err := c.fast.Delete(ctx, searchFastKey(key)); err != nil {
		c.tierError(log, metrics.TierFast, "delete_search", err)
	}
	if err := c.durable.DeleteSearchCache(ctx, key); err != nil {
		c.tierError(log, metrics.TierDurable, "delete_search", err)
		return eris.Wrapf(err, "cache: invalidate search %s", key)
	}
	return nil
}

// IsAnalysisRecent reports whether both vibe and amenity analysis for the
// cafe completed within the analysis TTL. A positive answer is remembered
// in the fast tier.
func (c *Coordinator) IsAnalysisRecent(ctx context.Context, cafeID int64) bool {
	log := zap.L().With(zap.Int64("cafe_id", cafeID))

	_, ok, err := c.fast.Get(ctx, analysisFastKey(cafeID))
	if err != nil {
		c.tierError(log, metrics.TierFast, "get_analysis", err)
	} else if ok {
		metrics.CacheLookups.WithLabelValues("analysis", metrics.TierFast, metrics.OutcomeHit).Inc()
		return true
	}

	stamps, err := c.durable.AnalysisStamps(ctx, cafeID)
	if err != nil {
		c.tierError(log, metrics.TierDurable, "get_analysis", err)
		return false
	}
	now := c.now()
	if !stamps.FreshWithin(now, c.cfg.AnalysisTTL) {
		metrics.CacheLookups.WithLabelValues("analysis", metrics.TierDurable, metrics.OutcomeMiss).Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues("analysis", metrics.TierDurable, metrics.OutcomeHit).Inc()

	oldest := stamps.VibesAt
	if stamps.AmenitiesAt.Before(oldest) {
		oldest = stamps.AmenitiesAt
	}
	remaining := c.cfg.AnalysisTTL - now.Sub(oldest)
	c.setFlag(ctx, log, cafeID, min(c.cfg.AnalysisFlagTTL, remaining))
	return true
}

// RecordAnalysis persists above-threshold scores for a cafe, replacing any
// previous sets, and marks the analysis fresh. It returns exactly what was
// stored so callers score with the same view a later load will see.
func (c *Coordinator) RecordAnalysis(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64) (model.Scores, error) {
	kept := model.KeepAbove(vibes, c.cfg.VibeThreshold, amenities, c.cfg.AmenityThreshold)

	if err := c.durable.ReplaceScores(ctx, cafeID, kept.Vibes, kept.Amenities, c.now()); err != nil {
		return model.Scores{}, eris.Wrapf(err, "cache: record analysis %d", cafeID)
	}
	c.setFlag(ctx, zap.L().With(zap.Int64("cafe_id", cafeID)), cafeID, c.cfg.AnalysisFlagTTL)
	return kept, nil
}

func (c *Coordinator) setFastSearch(ctx context.Context, log *zap.Logger, key string, ids []int64, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		log.Warn("cache: encode search ids", zap.Error(err))
		return
	}
	if err := c.fast.Set(ctx, searchFastKey(key), raw, ttl); err != nil {
		c.tierError(log, metrics.TierFast, "set_search", err)
	}
}

func (c *Coordinator) setFlag(ctx context.Context, log *zap.Logger, cafeID int64, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.fast.Set(ctx, analysisFastKey(cafeID), []byte{1}, ttl); err != nil {
		c.tierError(log, metrics.TierFast, "set_analysis", err)
	}
}

func (c *Coordinator) tierError(log *zap.Logger, tier, op string, err error) {
	metrics.CacheTierErrors.WithLabelValues(tier, op).Inc()
	switch op {
	case "get_search":
		metrics.CacheLookups.WithLabelValues("search", tier, metrics.OutcomeError).Inc()
	case "get_analysis":
		metrics.CacheLookups.WithLabelValues("analysis", tier, metrics.OutcomeError).Inc()
	}
	log.Warn("cache: tier unavailable", zap.String("tier", tier), zap.String("operation", op), zap.Error(err))
}
