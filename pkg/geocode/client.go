// Package geocode resolves free-text locations to coordinates through the
// Google Geocoding API, with an optional durable Postgres cache.
package geocode

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/cafe-cli/internal/db"
)

// Client geocodes free-text locations.
type Client interface {
	// Geocode resolves a single query. An unmatched query is not an error;
	// it returns a Result with Matched=false.
	Geocode(ctx context.Context, query string) (*Result, error)
}

// Result holds the geocoding output for a query.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	Source           string // "google" or "cache"
	Quality          string // "rooftop", "range", "centroid", "approximate"
	Matched          bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURL overrides the Geocoding API endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = u
	}
}

// WithRateLimit sets the requests-per-second rate limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache enables the durable geocode cache. Entries older than ttl are
// ignored; ttl <= 0 keeps entries forever.
func WithCache(q db.Querier, ttl time.Duration) Option {
	return func(g *geocoder) {
		g.pool = q
		g.cacheTTL = ttl
	}
}

type geocoder struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
	pool       db.Querier
	cacheTTL   time.Duration
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    googleGeocodeURL,
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode checks the cache, then calls Google. Only matched results are
// cached so a transient upstream miss is retried on the next request.
func (g *geocoder) Geocode(ctx context.Context, query string) (*Result, error) {
	key := cacheKey(query)
	if key == "" {
		return nil, eris.New("geocode: empty query")
	}

	if g.pool != nil {
		if r, err := g.checkCache(ctx, key); err == nil {
			return r, nil
		}
	}

	result, err := g.geocodeGoogle(ctx, query)
	if err != nil {
		return nil, err
	}

	if g.pool != nil && result.Matched {
		if err := g.storeCache(ctx, key, result); err != nil {
			zap.L().Warn("geocode: cache write failed", zap.Error(err))
		}
	}
	return result, nil
}
