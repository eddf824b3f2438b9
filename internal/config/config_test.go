package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "cafes.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://places.googleapis.com/v1", cfg.Google.PlacesBaseURL)
	assert.Equal(t, 20, cfg.Google.MaxResults)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(400), cfg.Anthropic.MaxTokens)
	assert.Equal(t, time.Hour, cfg.Cache.SearchTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DurableSearchTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.AnalysisTTL)
	assert.InDelta(t, 0.4, cfg.Cache.VibeThreshold, 0.001)
	assert.InDelta(t, 0.5, cfg.Cache.AmenityThreshold, 0.001)
	assert.Equal(t, 3, cfg.Analysis.BatchSize)
	assert.Equal(t, 5000, cfg.Recommend.RadiusMeters)
	assert.Equal(t, 5, cfg.Recommend.PrimaryCount)
	assert.Equal(t, 15, cfg.Recommend.SecondaryCount)
	assert.Equal(t, 30*time.Second, cfg.Recommend.Deadline)
	assert.InDelta(t, 0.40, cfg.Scoring.Weights.Vibe, 0.001)
	assert.InDelta(t, 0.25, cfg.Scoring.Weights.Amenity, 0.001)
	assert.InDelta(t, 0.20, cfg.Scoring.Weights.Distance, 0.001)
	assert.InDelta(t, 0.15, cfg.Scoring.Weights.Price, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/cafes
log:
  level: debug
  format: console
server:
  port: 9090
recommend:
  deadline: 10s
  require_analysis: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Recommend.Deadline)
	assert.True(t, cfg.Recommend.RequireAnalysis)
	// Defaults still apply for unset values
	assert.Equal(t, 5000, cfg.Recommend.RadiusMeters)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CAFE_STORE_DRIVER", "postgres")
	t.Setenv("CAFE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CAFE_SERVER_PORT", "3000")
	t.Setenv("CAFE_RECOMMEND_RADIUS_METERS", "2500")
	t.Setenv("CAFE_CACHE_SEARCH_TTL", "15m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2500, cfg.Recommend.RadiusMeters)
	assert.Equal(t, 15*time.Minute, cfg.Cache.SearchTTL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "cafes.db"
	cfg.Google.Key = "g-key"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Scoring.Weights = WeightsConfig{Vibe: 0.4, Amenity: 0.25, Distance: 0.2, Price: 0.15}
	cfg.Scoring.ComplementScale = 0.75
	cfg.Cache.VibeThreshold = 0.4
	cfg.Cache.AmenityThreshold = 0.5
	cfg.Analysis.BatchSize = 3
	cfg.Recommend.RadiusMeters = 5000
	cfg.Recommend.PrimaryCount = 5
	cfg.Recommend.SecondaryCount = 15
	cfg.Recommend.Deadline = 30 * time.Second
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRecommend_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("recommend"))
}

func TestValidateRecommend_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Google.Key = ""
	cfg.Anthropic.Key = ""

	err := cfg.Validate("recommend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.key is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateMigrate_NoKeysNeeded(t *testing.T) {
	cfg := validDefaults()
	cfg.Google.Key = ""
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("migrate"))
	assert.NoError(t, cfg.Validate("cache"))
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/cafes"
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	cfg.Server.Port = 9090
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateWeights(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.Weights.Vibe = -0.1
	err := cfg.Validate("recommend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.weights values must be >= 0")

	cfg.Scoring.Weights.Vibe = 0.5
	err = cfg.Validate("recommend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")

	cfg.Scoring.Weights.Vibe = 0.4
	assert.NoError(t, cfg.Validate("recommend"))
}

func TestValidateThresholdsAndBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.VibeThreshold = 1.5
	cfg.Analysis.BatchSize = 0
	cfg.Recommend.RadiusMeters = 0
	cfg.Recommend.Deadline = 0

	err := cfg.Validate("recommend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.vibe_threshold")
	assert.Contains(t, err.Error(), "analysis.batch_size must be between 1 and 20")
	assert.Contains(t, err.Error(), "recommend.radius_meters")
	assert.Contains(t, err.Error(), "recommend.deadline must be > 0")
}
