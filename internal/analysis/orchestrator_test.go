package analysis

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/cache"
	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/resilience"
	"github.com/sells-group/cafe-cli/internal/store"
	"github.com/sells-group/cafe-cli/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeAI answers CreateMessage through respond, keyed by cafe name.
type fakeAI struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	respond  func(name string, attempt int32) (string, error)

	mu       sync.Mutex
	attempts map[string]int32
}

func (f *fakeAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	name := strings.TrimPrefix(strings.SplitN(req.Messages[0].Content, "\n", 2)[0], "Cafe: ")
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int32)
	}
	f.attempts[name]++
	attempt := f.attempts[name]
	f.mu.Unlock()

	text, err := f.respond(name, attempt)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.Usage{Input: 100, Output: 40},
	}, nil
}

type recorded struct {
	vibes     map[model.Vibe]float64
	amenities map[model.Amenity]float64
}

type fakeRecorder struct {
	mu   sync.Mutex
	got  map[int64]recorded
	fail map[int64]bool
}

func (r *fakeRecorder) RecordAnalysis(_ context.Context, id int64, v map[model.Vibe]float64, a map[model.Amenity]float64) (model.Scores, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return model.Scores{}, errors.New("db down")
	}
	if r.got == nil {
		r.got = make(map[int64]recorded)
	}
	r.got[id] = recorded{v, a}
	return model.KeepAbove(v, model.VibeThreshold, a, model.AmenityThreshold), nil
}

func testConfig() Config {
	return Config{
		Model:       "claude-haiku-4-5-20251001",
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}
}

var enoughReviews = []string{"Lovely warm room with soft chairs and fast wifi.", "Great espresso."}

func cafe(id int64, name string, reviews ...string) model.Cafe {
	if reviews == nil {
		reviews = enoughReviews
	}
	return model.Cafe{ID: id, Name: name, Reviews: reviews}
}

func rateLimited() error {
	return resilience.NewTransientError(errors.New("anthropic: 429"), http.StatusTooManyRequests)
}

func TestAnalyze_SkipsInsufficientReviews(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) { return fullResponse(0.5, nil), nil }}
	rec := &fakeRecorder{}
	o := New(ai, rec, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{
		cafe(1, "Short", "ok"),
		cafe(2, "Empty", []string{}...),
		cafe(3, "Long"),
	})

	assert.Equal(t, SkipInsufficientReviews, report.Skipped[1])
	assert.Equal(t, SkipInsufficientReviews, report.Skipped[2])
	assert.Contains(t, report.Analyzed, int64(3))
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestAnalyze_RetryBoundExactAttempts(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) { return "", rateLimited() }}
	rec := &fakeRecorder{}
	o := New(ai, rec, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{cafe(7, "Busy")})

	assert.Equal(t, int32(3), ai.calls.Load())
	assert.Equal(t, SkipRateLimited, report.Skipped[7])
	assert.Empty(t, report.Analyzed)
	assert.Empty(t, rec.got)
}

func TestAnalyze_RecoversAfterRateLimit(t *testing.T) {
	ai := &fakeAI{respond: func(_ string, attempt int32) (string, error) {
		if attempt < 3 {
			return "", rateLimited()
		}
		return fullResponse(0.6, nil), nil
	}}
	rec := &fakeRecorder{}
	o := New(ai, rec, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{cafe(1, "Eventually")})

	assert.Equal(t, int32(3), ai.calls.Load())
	require.Contains(t, report.Analyzed, int64(1))
	assert.Contains(t, rec.got, int64(1))
}

func TestAnalyze_TerminalErrorNotRetried(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) {
		return "", errors.New("anthropic: create message: status 400")
	}}
	o := New(ai, &fakeRecorder{}, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{cafe(1, "Bad")})

	assert.Equal(t, int32(1), ai.calls.Load())
	assert.Equal(t, SkipProviderError, report.Skipped[1])
}

func TestAnalyze_MalformedResponsePersistsNothing(t *testing.T) {
	ai := &fakeAI{respond: func(name string, _ int32) (string, error) {
		if name == "Broken" {
			return fullResponse(0.9, map[string]string{"pet_friendly": "-"}), nil
		}
		return fullResponse(0.9, nil), nil
	}}
	rec := &fakeRecorder{}
	o := New(ai, rec, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{cafe(1, "Broken"), cafe(2, "Fine")})

	assert.Equal(t, SkipInvalidResponse, report.Skipped[1])
	assert.NotContains(t, rec.got, int64(1))
	assert.Contains(t, rec.got, int64(2))
}

func TestAnalyze_PersistFailure(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) { return fullResponse(0.9, nil), nil }}
	rec := &fakeRecorder{fail: map[int64]bool{4: true}}
	o := New(ai, rec, testConfig())

	report := o.Analyze(context.Background(), []model.Cafe{cafe(4, "Doomed")})
	assert.Equal(t, SkipPersistFailed, report.Skipped[4])
	assert.Empty(t, report.Analyzed)
}

func TestAnalyze_ConcurrencyBoundedByBatch(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) { return fullResponse(0.5, nil), nil }}
	o := New(ai, &fakeRecorder{}, testConfig())

	var cafes []model.Cafe
	for i := int64(1); i <= 8; i++ {
		cafes = append(cafes, cafe(i, "C"+string(rune('A'+i))))
	}
	report := o.Analyze(context.Background(), cafes)

	assert.Len(t, report.Analyzed, 8)
	assert.LessOrEqual(t, ai.peak.Load(), int32(3))
	assert.Equal(t, int32(8), ai.calls.Load())
}

func TestAnalyze_CanceledContextSkips(t *testing.T) {
	ai := &fakeAI{respond: func(string, int32) (string, error) { return "", rateLimited() }}
	cfg := testConfig()
	cfg.Backoff = func(int) time.Duration { return time.Hour }
	o := New(ai, &fakeRecorder{}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	report := o.Analyze(ctx, []model.Cafe{cafe(1, "Slow")})

	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, report.Skipped, int64(1))
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestAnalyze_PersistsOnlyAboveThresholdWithSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	saved, err := st.UpsertCafes(ctx, []model.Cafe{
		{PlaceID: "p1", Name: "Nook", Reviews: enoughReviews, LastFetched: time.Now()},
		{PlaceID: "p2", Name: "Broken", Reviews: enoughReviews, LastFetched: time.Now()},
	})
	require.NoError(t, err)

	coord := cache.New(cache.NewMemoryTier(time.Hour, time.Minute), st, cache.DefaultConfig())
	ai := &fakeAI{respond: func(name string, _ int32) (string, error) {
		if name == "Broken" {
			return `{"vibe_scores": {"cozy": 0.9}}`, nil
		}
		return fullResponse(0.1, map[string]string{
			"cozy": "0.5", "modern": "0.3", "wifi": "0.6", "parking": "0.3",
		}), nil
	}}
	report := New(ai, coord, testConfig()).Analyze(ctx, saved)

	require.Len(t, report.Analyzed, 1)
	got, err := st.GetCafes(ctx, []int64{saved[0].ID, saved[1].ID})
	require.NoError(t, err)

	assert.Equal(t, map[model.Vibe]float64{model.VibeCozy: 0.5}, got[0].VibeScores)
	assert.Equal(t, map[model.Amenity]float64{model.AmenityWifi: 0.6}, got[0].AmenityScores)
	assert.True(t, coord.IsAnalysisRecent(ctx, saved[0].ID))

	assert.Empty(t, got[1].VibeScores)
	assert.Empty(t, got[1].AmenityScores)
	assert.False(t, coord.IsAnalysisRecent(ctx, saved[1].ID))
}
