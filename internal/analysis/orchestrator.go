package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cafe-cli/internal/metrics"
	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/resilience"
	"github.com/sells-group/cafe-cli/pkg/anthropic"
)

// SkipReason explains why a cafe was not analyzed in a run.
type SkipReason string

const (
	SkipInsufficientReviews SkipReason = "insufficient_reviews"
	SkipRateLimited         SkipReason = "rate_limited"
	SkipProviderError       SkipReason = "provider_error"
	SkipInvalidResponse     SkipReason = "invalid_response"
	SkipPersistFailed       SkipReason = "persist_failed"
)

// Recorder persists validated analysis results.
type Recorder interface {
	RecordAnalysis(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64) (model.Scores, error)
}

// Config tunes the orchestrator.
type Config struct {
	Model          string
	MaxTokens      int64
	BatchSize      int
	MinReviewChars int
	MaxAttempts    int
	Backoff        resilience.BackoffFunc
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Model:          "claude-haiku-4-5-20251001",
		MaxTokens:      400,
		BatchSize:      3,
		MinReviewChars: 50,
		MaxAttempts:    3,
		Backoff:        resilience.ExponentialBackoff(time.Second, 8*time.Second, 2.0, 0.2),
	}
}

// Report is the outcome of one Analyze call. Every input cafe appears in
// exactly one of the two maps.
type Report struct {
	Analyzed map[int64]Result
	Skipped  map[int64]SkipReason
}

// Orchestrator scores cafes in bounded concurrent batches.
type Orchestrator struct {
	ai      anthropic.Client
	rec     Recorder
	cfg     Config
	breaker *resilience.CircuitBreaker
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBreaker guards scoring calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) {
		o.breaker = cb
	}
}

// New creates an Orchestrator. Zero config fields take DefaultConfig values.
func New(ai anthropic.Client, rec Recorder, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinReviewChars <= 0 {
		cfg.MinReviewChars = def.MinReviewChars
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	o := &Orchestrator{ai: ai, rec: rec, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze scores each cafe and persists valid results through the
// Recorder. Failures are per cafe and never abort the run; a cafe that is
// skipped is not recorded as analyzed.
func (o *Orchestrator) Analyze(ctx context.Context, cafes []model.Cafe) Report {
	log := zap.L().With(zap.String("phase", "analysis"))
	report := Report{
		Analyzed: make(map[int64]Result),
		Skipped:  make(map[int64]SkipReason),
	}

	var eligible []model.Cafe
	for _, c := range cafes {
		if len(c.ReviewText()) < o.cfg.MinReviewChars {
			report.Skipped[c.ID] = SkipInsufficientReviews
			metrics.AnalysisResults.WithLabelValues(string(SkipInsufficientReviews)).Inc()
			continue
		}
		eligible = append(eligible, c)
	}

	log.Info("analyzing cafes",
		zap.Int("eligible", len(eligible)),
		zap.Int("insufficient", len(cafes)-len(eligible)),
	)

	var mu sync.Mutex
	for start := 0; start < len(eligible); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(eligible))
		batch := eligible[start:end]

		var g errgroup.Group
		g.SetLimit(o.cfg.BatchSize)
		for _, c := range batch {
			g.Go(func() error {
				res, reason := o.analyzeOne(ctx, log, c)
				metrics.AnalysisResults.WithLabelValues(outcomeLabel(reason)).Inc()

				mu.Lock()
				defer mu.Unlock()
				if reason != "" {
					report.Skipped[c.ID] = reason
				} else {
					report.Analyzed[c.ID] = res
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Info("analysis complete",
		zap.Int("analyzed", len(report.Analyzed)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report
}

func (o *Orchestrator) analyzeOne(ctx context.Context, log *zap.Logger, c model.Cafe) (Result, SkipReason) {
	log = log.With(zap.Int64("cafe_id", c.ID), zap.String("name", c.Name))
	req := BuildRequest(InputFromCafe(c), RequestOptions{Model: o.cfg.Model, MaxTokens: o.cfg.MaxTokens})

	policy := resilience.RateLimitPolicy(o.cfg.MaxAttempts, o.cfg.Backoff)
	policy.OnRetry = resilience.RetryLogger("anthropic", "score_cafe")

	resp, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if o.breaker == nil {
			return o.ai.CreateMessage(ctx, req)
		}
		return resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return o.ai.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		if resilience.IsRateLimited(err) {
			log.Warn("scoring rate limited, skipping", zap.Error(err))
			return Result{}, SkipRateLimited
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("scoring abandoned", zap.Error(err))
		} else {
			log.Warn("scoring failed, skipping", zap.Error(err))
		}
		return Result{}, SkipProviderError
	}

	resp.Usage.Log(o.cfg.Model, "analysis")
	metrics.AnalysisTokens.WithLabelValues("input").Add(float64(resp.Usage.Input))
	metrics.AnalysisTokens.WithLabelValues("output").Add(float64(resp.Usage.Output))

	res, bad := ParseResponse(resp.Text())
	if bad != nil {
		log.Warn("dropping invalid scoring response",
			zap.String("reason", bad.Reason),
			zap.String("stop_reason", resp.StopReason),
		)
		return Result{}, SkipInvalidResponse
	}

	stored, err := o.rec.RecordAnalysis(ctx, c.ID, res.Vibes, res.Amenities)
	if err != nil {
		log.Warn("persist analysis failed", zap.Error(err))
		return Result{}, SkipPersistFailed
	}
	res.Stored = stored
	return res, ""
}

func outcomeLabel(r SkipReason) string {
	if r == "" {
		return "analyzed"
	}
	return string(r)
}
