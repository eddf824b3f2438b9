package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/analysis"
	"github.com/sells-group/cafe-cli/internal/cache"
	"github.com/sells-group/cafe-cli/internal/config"
	"github.com/sells-group/cafe-cli/internal/places"
	"github.com/sells-group/cafe-cli/internal/recommend"
	"github.com/sells-group/cafe-cli/internal/resilience"
	"github.com/sells-group/cafe-cli/internal/scoring"
	"github.com/sells-group/cafe-cli/internal/store"
	anthropicpkg "github.com/sells-group/cafe-cli/pkg/anthropic"
	"github.com/sells-group/cafe-cli/pkg/geocode"
	"github.com/sells-group/cafe-cli/pkg/google"
)

// serviceAnthropic names the text-scoring breaker.
const serviceAnthropic = "anthropic"

// appEnv holds everything the recommend and serve commands share.
type appEnv struct {
	Store    store.Store
	Cache    *cache.Coordinator
	Breakers *resilience.ServiceBreakers
	Service  *recommend.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// cacheConfig maps the config section onto the coordinator's settings.
func cacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		SearchTTL:        c.SearchTTL,
		DurableSearchTTL: c.DurableSearchTTL,
		AnalysisTTL:      c.AnalysisTTL,
		AnalysisFlagTTL:  c.AnalysisFlagTTL,
		VibeThreshold:    c.VibeThreshold,
		AmenityThreshold: c.AmenityThreshold,
	}
}

// scoringModel builds the ranking model from config, applying the profile
// file when one is set.
func scoringModel(c *config.Config) (scoring.Model, error) {
	m := scoring.Default(float64(c.Recommend.RadiusMeters))
	w := c.Scoring.Weights
	if w != (config.WeightsConfig{}) {
		m.Weights = scoring.Weights{Vibe: w.Vibe, Amenity: w.Amenity, Distance: w.Distance, Price: w.Price}
	}
	if c.Scoring.ComplementScale > 0 {
		m.ComplementScale = c.Scoring.ComplementScale
	}
	if c.Scoring.Profile != "" {
		return scoring.LoadProfile(c.Scoring.Profile, m)
	}
	return m, nil
}

// initEnv wires store, cache, providers, analysis and the recommendation
// service. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	model, err := scoringModel(c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cbCfg := resilience.CircuitSettings{
		FailureThreshold: c.Circuit.FailureThreshold,
		ResetTimeout:     time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second,
	}.Config()
	cbCfg.OnStateChange = places.RecordBreakerState
	breakers := resilience.NewServiceBreakers(cbCfg)

	retry := resilience.RetrySettings{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:     c.Retry.Multiplier,
		Jitter:         c.Retry.JitterFraction,
	}.Policy()

	geoOpts := []geocode.Option{geocode.WithRateLimit(c.Google.RateLimit)}
	if c.Google.GeocodeBaseURL != "" {
		geoOpts = append(geoOpts, geocode.WithBaseURL(c.Google.GeocodeBaseURL))
	}
	if ps, ok := st.(*store.PostgresStore); ok {
		geoOpts = append(geoOpts, geocode.WithCache(ps.Querier(), time.Duration(c.Google.GeocodeCacheHours)*time.Hour))
		zap.L().Info("geocode cache enabled")
	}
	var placesOpts []google.Option
	if c.Google.PlacesBaseURL != "" {
		placesOpts = append(placesOpts, google.WithBaseURL(c.Google.PlacesBaseURL))
	}
	provider := places.New(
		google.NewClient(c.Google.Key, placesOpts...),
		geocode.NewClient(c.Google.Key, geoOpts...),
		places.WithRetryPolicy(retry),
		places.WithBreakers(breakers),
		places.WithMaxResults(c.Google.MaxResults),
	)

	var aiOpts []anthropicpkg.Option
	if c.Anthropic.BaseURL != "" {
		aiOpts = append(aiOpts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
	}
	coord := cache.New(
		cache.NewMemoryTier(c.Cache.SearchTTL, 10*time.Minute),
		st,
		cacheConfig(c.Cache),
	)

	acfg := analysis.DefaultConfig()
	acfg.Model = c.Anthropic.Model
	acfg.MaxTokens = c.Anthropic.MaxTokens
	acfg.BatchSize = c.Analysis.BatchSize
	acfg.MinReviewChars = c.Analysis.MinReviewChars
	acfg.MaxAttempts = c.Analysis.MaxAttempts
	analyzer := analysis.New(
		anthropicpkg.NewClient(c.Anthropic.Key, aiOpts...),
		coord,
		acfg,
		analysis.WithBreaker(breakers.Get(serviceAnthropic)),
	)

	var filter *recommend.NameFilter
	if c.Recommend.AllowTerms != nil || c.Recommend.DenyTerms != nil {
		filter = recommend.NewNameFilter(c.Recommend.AllowTerms, c.Recommend.DenyTerms)
	}

	svc := recommend.NewService(recommend.Deps{
		Places:   provider,
		Cache:    coord,
		Analyzer: analyzer,
		Store:    st,
		Model:    model,
		Filter:   filter,
	}, recommend.Config{
		RadiusMeters:      c.Recommend.RadiusMeters,
		PrimaryCount:      c.Recommend.PrimaryCount,
		SecondaryCount:    c.Recommend.SecondaryCount,
		DetailConcurrency: c.Recommend.DetailConcurrency,
		Deadline:          c.Recommend.Deadline,
		RequireAnalysis:   c.Recommend.RequireAnalysis,
	})

	return &appEnv{Store: st, Cache: coord, Breakers: breakers, Service: svc}, nil
}
