// Package recommend turns a free-text location and soft preferences into a
// ranked list of cafes.
package recommend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cafe-cli/internal/analysis"
	"github.com/sells-group/cafe-cli/internal/cache"
	"github.com/sells-group/cafe-cli/internal/metrics"
	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/places"
	"github.com/sells-group/cafe-cli/internal/resilience"
	"github.com/sells-group/cafe-cli/internal/scoring"
	"github.com/sells-group/cafe-cli/internal/store"
)

// Request-level errors. Every other failure degrades the result instead.
var (
	ErrInvalidRequest      = eris.New("recommend: invalid request")
	ErrGeocode             = eris.New("recommend: location could not be resolved")
	ErrNotFound            = eris.New("recommend: no cafes found")
	ErrTimeout             = eris.New("recommend: deadline exceeded")
	ErrProviderUnavailable = eris.New("recommend: place provider unavailable")
)

// Cache is the subset of the cache coordinator used per request.
type Cache interface {
	GetSearchResults(ctx context.Context, key string) ([]int64, bool)
	PutSearchResults(ctx context.Context, key string, ids []int64) error
	InvalidateSearch(ctx context.Context, key string) error
	IsAnalysisRecent(ctx context.Context, cafeID int64) bool
}

// Analyzer scores review text for stale cafes.
type Analyzer interface {
	Analyze(ctx context.Context, cafes []model.Cafe) analysis.Report
}

// Store is the subset of the entity store used per request.
type Store interface {
	UpsertCafes(ctx context.Context, cafes []model.Cafe) ([]model.Cafe, error)
	GetCafes(ctx context.Context, ids []int64) ([]model.Cafe, error)
	FindNearby(ctx context.Context, f store.NearbyFilter) ([]model.Cafe, error)
}

// Config tunes the service.
type Config struct {
	RadiusMeters      int
	PrimaryCount      int
	SecondaryCount    int
	DetailConcurrency int
	Deadline          time.Duration

	// RequireAnalysis drops cafes whose analysis is missing or failed
	// instead of scoring them with neutral defaults.
	RequireAnalysis bool
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		RadiusMeters:      5000,
		PrimaryCount:      5,
		SecondaryCount:    15,
		DetailConcurrency: 3,
		Deadline:          30 * time.Second,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Places   places.Provider
	Cache    Cache
	Analyzer Analyzer
	Store    Store
	Model    scoring.Model
	Filter   *NameFilter
	Now      func() time.Time
}

// Service runs the recommendation pipeline.
type Service struct {
	deps Deps
	cfg  Config
}

// NewService wires a Service. A zero Model gets scoring.Default over the
// search radius; a nil Filter gets the default terms.
func NewService(deps Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = def.RadiusMeters
	}
	if cfg.PrimaryCount <= 0 {
		cfg.PrimaryCount = def.PrimaryCount
	}
	if cfg.SecondaryCount < 0 {
		cfg.SecondaryCount = def.SecondaryCount
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = def.DetailConcurrency
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if deps.Model.Weights == (scoring.Weights{}) {
		deps.Model = scoring.Default(float64(cfg.RadiusMeters))
	}
	if deps.Filter == nil {
		deps.Filter = NewNameFilter(nil, nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps, cfg: cfg}
}

// run carries the per-request state through the pipeline.
type run struct {
	id     string
	req    Request
	tier   model.PriceTier
	origin model.Location
	key    string
	source Source
	cafes  []model.Cafe
	log    *zap.Logger
}

// Recommend resolves, searches, analyzes, scores and ranks.
func (s *Service) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := s.deps.Now()
	r := &run{id: uuid.NewString(), req: req, tier: normalizeTier(req.PriceRange)}
	r.log = zap.L().With(zap.String("request_id", r.id))

	resp, err := s.recommend(ctx, r)
	source := string(r.source)
	if source == "" {
		source = "none"
	}
	metrics.Recommendations.WithLabelValues(outcomeLabel(err), source).Inc()
	metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.log.Info("recommendation failed", zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (s *Service) recommend(parent context.Context, r *run) (*Response, error) {
	if err := validateRequest(r.req); err != nil {
		return nil, eris.Wrap(ErrInvalidRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.Deadline)
	defer cancel()

	// RESOLVE_KEY
	origin, err := s.deps.Places.Geocode(ctx, r.req.Location)
	if err != nil {
		if terr := deadline(ctx); terr != nil {
			return nil, terr
		}
		return nil, eris.Wrap(ErrGeocode, err.Error())
	}
	r.origin = origin
	r.key = cache.SearchKey(origin.Lat, origin.Lng, s.cfg.RadiusMeters, r.tier)
	r.log = r.log.With(zap.String("search_key", r.key))

	// CACHE_LOOKUP
	if !s.loadCached(ctx, r) {
		if err := s.search(ctx, r); err != nil {
			return nil, err
		}
	}
	if terr := deadline(ctx); terr != nil {
		return nil, terr
	}

	// ENSURE_ANALYSIS
	unanalyzed := s.ensureAnalysis(ctx, r)
	if terr := deadline(ctx); terr != nil {
		return nil, terr
	}
	if len(r.cafes) == 0 {
		return nil, ErrNotFound
	}

	// SCORE, RANK, SPLIT
	scored := s.deps.Model.Score(r.cafes, r.origin, r.req.Preferences())
	scoring.Rank(scored)
	primary, secondary := scoring.Split(scored, s.cfg.PrimaryCount, s.cfg.SecondaryCount)

	resp := &Response{
		RequestID:       r.id,
		Origin:          r.origin,
		SearchKey:       r.key,
		Source:          r.source,
		Recommendations: make([]Item, len(primary)),
		More:            make([]Item, len(secondary)),
		Unanalyzed:      unanalyzed,
	}
	for i, sc := range primary {
		resp.Recommendations[i] = newItem(sc)
	}
	for i, sc := range secondary {
		resp.More[i] = newItem(sc)
	}

	r.log.Info("recommendation complete",
		zap.String("source", string(r.source)),
		zap.Int("candidates", len(scored)),
		zap.Int("unanalyzed", unanalyzed),
	)
	return resp, nil
}

// loadCached serves the candidate set from the search cache. A hit whose
// cafes no longer all load is invalidated and treated as a miss.
func (s *Service) loadCached(ctx context.Context, r *run) bool {
	ids, ok := s.deps.Cache.GetSearchResults(ctx, r.key)
	if !ok {
		return false
	}
	cafes, err := s.deps.Store.GetCafes(ctx, ids)
	if err != nil || len(cafes) != len(ids) {
		r.log.Info("cached search references missing cafes, refreshing",
			zap.Int("cached", len(ids)),
			zap.Int("loaded", len(cafes)),
			zap.Error(err),
		)
		if ierr := s.deps.Cache.InvalidateSearch(ctx, r.key); ierr != nil {
			r.log.Warn("invalidate search failed", zap.Error(ierr))
		}
		return false
	}
	r.cafes = cafes
	r.source = SourceCache
	return true
}

// search runs EXTERNAL_SEARCH, PERSIST and CACHE_WRITE.
func (s *Service) search(ctx context.Context, r *run) error {
	summaries, err := s.deps.Places.SearchNearby(ctx, r.origin, s.cfg.RadiusMeters, r.tier)
	if err != nil {
		if terr := deadline(ctx); terr != nil {
			return terr
		}
		if resilience.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) {
			return s.fallback(ctx, r, err)
		}
		return eris.Wrap(ErrProviderUnavailable, err.Error())
	}

	summaries = s.deps.Filter.Apply(summaries)
	if len(summaries) == 0 {
		return ErrNotFound
	}

	cafes := s.fetchDetails(ctx, r, summaries)
	if len(cafes) == 0 {
		return ErrNotFound
	}
	r.source = SourceProvider

	saved, err := s.deps.Store.UpsertCafes(ctx, cafes)
	if err != nil {
		r.log.Warn("persist cafes failed, results will not be cached", zap.Error(err))
		r.cafes = cafes
		return nil
	}

	ids := make([]int64, len(saved))
	for i, c := range saved {
		ids[i] = c.ID
	}
	// Reload so rediscovered cafes carry their persisted scores.
	if loaded, lerr := s.deps.Store.GetCafes(ctx, ids); lerr == nil && len(loaded) == len(ids) {
		saved = loaded
	}
	r.cafes = saved

	if err := s.deps.Cache.PutSearchResults(ctx, r.key, ids); err != nil {
		r.log.Warn("cache write failed", zap.Error(err))
	}
	return nil
}

// fetchDetails enriches every summary concurrently. A failed fetch keeps
// the candidate without reviews. Candidates whose details reveal a
// different price tier than requested are dropped.
func (s *Service) fetchDetails(ctx context.Context, r *run, summaries []model.PlaceSummary) []model.Cafe {
	now := s.deps.Now()
	cafes := make([]model.Cafe, len(summaries))
	keep := make([]bool, len(summaries))

	var g errgroup.Group
	g.SetLimit(s.cfg.DetailConcurrency)
	for i, sum := range summaries {
		g.Go(func() error {
			d, err := s.deps.Places.GetDetails(ctx, sum.PlaceID)
			if err != nil {
				r.log.Debug("details failed, keeping summary only",
					zap.String("place_id", sum.PlaceID), zap.Error(err))
				d = nil
			}
			c := model.NewCafe(sum, d, now)
			cafes[i] = c
			keep[i] = !r.tier.Specified() || !c.PriceTier.Specified() || c.PriceTier == r.tier
			return nil
		})
	}
	_ = g.Wait()

	out := cafes[:0]
	for i, c := range cafes {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// fallback answers from the store's spatial index when the provider is
// unavailable. Results are not written to the search cache.
func (s *Service) fallback(ctx context.Context, r *run, cause error) error {
	r.log.Warn("nearby search unavailable, falling back to stored cafes", zap.Error(cause))
	cafes, err := s.deps.Store.FindNearby(ctx, store.NearbyFilter{
		Origin:       r.origin,
		RadiusMeters: float64(s.cfg.RadiusMeters),
		PriceTier:    r.tier,
		Limit:        s.cfg.PrimaryCount + s.cfg.SecondaryCount,
	})
	if err != nil {
		r.log.Warn("store fallback failed", zap.Error(err))
	}
	kept := cafes[:0]
	for _, c := range cafes {
		if s.deps.Filter.Keep(c.Name) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return eris.Wrap(ErrProviderUnavailable, cause.Error())
	}
	r.cafes = kept
	r.source = SourceStore
	return nil
}

// ensureAnalysis analyzes stale cafes and applies fresh scores in place.
// It returns how many candidates are scored without a usable analysis.
func (s *Service) ensureAnalysis(ctx context.Context, r *run) int {
	var stale []model.Cafe
	fresh := make(map[int64]bool, len(r.cafes))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.DetailConcurrency)
	for _, c := range r.cafes {
		if c.ID == 0 {
			continue
		}
		g.Go(func() error {
			ok := s.deps.Cache.IsAnalysisRecent(ctx, c.ID)
			mu.Lock()
			fresh[c.ID] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range r.cafes {
		if c.ID != 0 && !fresh[c.ID] {
			stale = append(stale, c)
		}
	}

	var report analysis.Report
	if len(stale) > 0 {
		report = s.deps.Analyzer.Analyze(ctx, stale)
	}

	unanalyzed := 0
	out := r.cafes[:0]
	for _, c := range r.cafes {
		if res, ok := report.Analyzed[c.ID]; ok && c.ID != 0 {
			c.VibeScores = res.Stored.Vibes
			c.AmenityScores = res.Stored.Amenities
			fresh[c.ID] = true
		}
		if !fresh[c.ID] {
			unanalyzed++
			if s.cfg.RequireAnalysis {
				continue
			}
		}
		out = append(out, c)
	}
	r.cafes = out
	return unanalyzed
}

// deadline maps an expired request context to ErrTimeout.
func deadline(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "recommend: canceled")
	}
	return nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrGeocode):
		return "geocode_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
