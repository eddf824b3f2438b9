package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Recommend RecommendConfig `yaml:"recommend" mapstructure:"recommend"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Places and Geocoding API settings.
type GoogleConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	PlacesBaseURL     string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	GeocodeBaseURL    string  `yaml:"geocode_base_url" mapstructure:"geocode_base_url"`
	RateLimit         float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	MaxResults        int     `yaml:"max_results" mapstructure:"max_results"`
	GeocodeCacheHours int     `yaml:"geocode_cache_hours" mapstructure:"geocode_cache_hours"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CacheConfig holds cache lifetimes and persistence thresholds.
type CacheConfig struct {
	SearchTTL        time.Duration `yaml:"search_ttl" mapstructure:"search_ttl"`
	DurableSearchTTL time.Duration `yaml:"durable_search_ttl" mapstructure:"durable_search_ttl"`
	AnalysisTTL      time.Duration `yaml:"analysis_ttl" mapstructure:"analysis_ttl"`
	AnalysisFlagTTL  time.Duration `yaml:"analysis_flag_ttl" mapstructure:"analysis_flag_ttl"`
	VibeThreshold    float64       `yaml:"vibe_threshold" mapstructure:"vibe_threshold"`
	AmenityThreshold float64       `yaml:"amenity_threshold" mapstructure:"amenity_threshold"`
}

// AnalysisConfig configures review scoring.
type AnalysisConfig struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
	MinReviewChars int `yaml:"min_review_chars" mapstructure:"min_review_chars"`
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// RecommendConfig configures the request pipeline.
type RecommendConfig struct {
	RadiusMeters      int           `yaml:"radius_meters" mapstructure:"radius_meters"`
	PrimaryCount      int           `yaml:"primary_count" mapstructure:"primary_count"`
	SecondaryCount    int           `yaml:"secondary_count" mapstructure:"secondary_count"`
	DetailConcurrency int           `yaml:"detail_concurrency" mapstructure:"detail_concurrency"`
	Deadline          time.Duration `yaml:"deadline" mapstructure:"deadline"`
	RequireAnalysis   bool          `yaml:"require_analysis" mapstructure:"require_analysis"`
	AllowTerms        []string      `yaml:"allow_terms" mapstructure:"allow_terms"`
	DenyTerms         []string      `yaml:"deny_terms" mapstructure:"deny_terms"`
}

// ScoringConfig holds factor weights and an optional profile file that
// overrides them.
type ScoringConfig struct {
	Profile         string        `yaml:"profile" mapstructure:"profile"`
	Weights         WeightsConfig `yaml:"weights" mapstructure:"weights"`
	ComplementScale float64       `yaml:"complement_scale" mapstructure:"complement_scale"`
}

// WeightsConfig is the linear combination of the ranking factors.
type WeightsConfig struct {
	Vibe     float64 `yaml:"vibe" mapstructure:"vibe"`
	Amenity  float64 `yaml:"amenity" mapstructure:"amenity"`
	Distance float64 `yaml:"distance" mapstructure:"distance"`
	Price    float64 `yaml:"price" mapstructure:"price"`
}

// RetryConfig configures provider retry backoff.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "cafes.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("google.key", "")
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("google.max_results", 20)
	v.SetDefault("google.geocode_cache_hours", 24*30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 400)
	v.SetDefault("cache.search_ttl", time.Hour)
	v.SetDefault("cache.durable_search_ttl", 24*time.Hour)
	v.SetDefault("cache.analysis_ttl", 7*24*time.Hour)
	v.SetDefault("cache.analysis_flag_ttl", time.Hour)
	v.SetDefault("cache.vibe_threshold", 0.4)
	v.SetDefault("cache.amenity_threshold", 0.5)
	v.SetDefault("analysis.batch_size", 3)
	v.SetDefault("analysis.min_review_chars", 50)
	v.SetDefault("analysis.max_attempts", 3)
	v.SetDefault("recommend.radius_meters", 5000)
	v.SetDefault("recommend.primary_count", 5)
	v.SetDefault("recommend.secondary_count", 15)
	v.SetDefault("recommend.detail_concurrency", 3)
	v.SetDefault("recommend.deadline", 30*time.Second)
	v.SetDefault("recommend.require_analysis", false)
	v.SetDefault("scoring.profile", "")
	v.SetDefault("scoring.weights.vibe", 0.40)
	v.SetDefault("scoring.weights.amenity", 0.25)
	v.SetDefault("scoring.weights.distance", 0.20)
	v.SetDefault("scoring.weights.price", 0.15)
	v.SetDefault("scoring.complement_scale", 0.75)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 8000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for a command mode: "recommend",
// "serve", "migrate" or "cache".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "recommend", "serve":
		if c.Google.Key == "" {
			errs = append(errs, "google.key is required")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "migrate", "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateTunables()...)

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for sqlite"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validateTunables() []string {
	var errs []string

	w := c.Scoring.Weights
	if w.Vibe < 0 || w.Amenity < 0 || w.Distance < 0 || w.Price < 0 {
		errs = append(errs, "scoring.weights values must be >= 0")
	} else if sum := w.Vibe + w.Amenity + w.Distance + w.Price; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("scoring.weights must sum to 1, got %.4f", sum))
	}
	if c.Scoring.ComplementScale < 0 || c.Scoring.ComplementScale > 1 {
		errs = append(errs, "scoring.complement_scale must be between 0 and 1")
	}
	if c.Cache.VibeThreshold < 0 || c.Cache.VibeThreshold > 1 {
		errs = append(errs, "cache.vibe_threshold must be between 0 and 1")
	}
	if c.Cache.AmenityThreshold < 0 || c.Cache.AmenityThreshold > 1 {
		errs = append(errs, "cache.amenity_threshold must be between 0 and 1")
	}
	if c.Analysis.BatchSize < 1 || c.Analysis.BatchSize > 20 {
		errs = append(errs, "analysis.batch_size must be between 1 and 20")
	}
	if c.Recommend.RadiusMeters <= 0 || c.Recommend.RadiusMeters > 50000 {
		errs = append(errs, "recommend.radius_meters must be between 1 and 50000")
	}
	if c.Recommend.PrimaryCount < 1 {
		errs = append(errs, "recommend.primary_count must be >= 1")
	}
	if c.Recommend.SecondaryCount < 0 {
		errs = append(errs, "recommend.secondary_count must be >= 0")
	}
	if c.Recommend.Deadline <= 0 {
		errs = append(errs, "recommend.deadline must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
