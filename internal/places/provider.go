// Package places adapts the Google Places and Geocoding clients to the
// recommender's place provider contract. Every call is rate limited by the
// underlying client, retried on transient failures, and guarded by a
// per-service circuit breaker.
package places

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/metrics"
	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/resilience"
	"github.com/sells-group/cafe-cli/pkg/geocode"
	"github.com/sells-group/cafe-cli/pkg/google"
)

// Service names used for breakers, metrics and logs.
const (
	ServicePlaces  = "google_places"
	ServiceGeocode = "google_geocode"
)

// ErrNoMatch is returned by Geocode when the query resolves to nothing.
var ErrNoMatch = eris.New("places: location not found")

// Provider is the place capability consumed by the recommender.
type Provider interface {
	Geocode(ctx context.Context, query string) (model.Location, error)
	SearchNearby(ctx context.Context, origin model.Location, radiusMeters int, tier model.PriceTier) ([]model.PlaceSummary, error)
	GetDetails(ctx context.Context, placeID string) (*model.PlaceDetails, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the retry policy applied to every call.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithBreakers shares a breaker registry with other components.
func WithBreakers(b *resilience.ServiceBreakers) Option {
	return func(c *Client) {
		c.breakers = b
	}
}

// WithMaxResults caps the number of nearby results requested.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		c.maxResults = n
	}
}

// Client implements Provider over pkg/google and pkg/geocode.
type Client struct {
	places     google.Client
	geocoder   geocode.Client
	policy     resilience.Policy
	breakers   *resilience.ServiceBreakers
	maxResults int
}

// New creates a provider. The default breaker registry publishes state
// changes to metrics.CircuitBreakerState.
func New(places google.Client, geocoder geocode.Client, opts ...Option) *Client {
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.OnStateChange = RecordBreakerState
	c := &Client{
		places:     places,
		geocoder:   geocoder,
		policy:     resilience.DefaultPolicy(),
		breakers:   resilience.NewServiceBreakers(cbCfg),
		maxResults: 20,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RecordBreakerState publishes a breaker transition as a gauge value.
func RecordBreakerState(name string, _, to gobreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

func (c *Client) Geocode(ctx context.Context, query string) (model.Location, error) {
	res, err := call(ctx, c, ServiceGeocode, "geocode", func(ctx context.Context) (*geocode.Result, error) {
		return c.geocoder.Geocode(ctx, query)
	})
	if err != nil {
		return model.Location{}, err
	}
	if res == nil || !res.Matched {
		return model.Location{}, ErrNoMatch
	}
	return model.Location{Lat: res.Latitude, Lng: res.Longitude}, nil
}

// SearchNearby returns cafes within radiusMeters of origin. The Places API
// has no price filter, so candidates are filtered here; a candidate whose
// price level is unknown is kept since details may still supply it.
func (c *Client) SearchNearby(ctx context.Context, origin model.Location, radiusMeters int, tier model.PriceTier) ([]model.PlaceSummary, error) {
	resp, err := call(ctx, c, ServicePlaces, "search_nearby", func(ctx context.Context) (*google.NearbyResponse, error) {
		return c.places.SearchNearby(ctx, google.NearbyRequest{
			Latitude:       origin.Lat,
			Longitude:      origin.Lng,
			RadiusMeters:   float64(radiusMeters),
			MaxResultCount: c.maxResults,
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.PlaceSummary, 0, len(resp.Places))
	for _, p := range resp.Places {
		s := model.PlaceSummary{
			PlaceID:   p.ID,
			Name:      p.DisplayName.Text,
			Location:  model.Location{Lat: p.Location.Latitude, Lng: p.Location.Longitude},
			Address:   p.FormattedAddress,
			PriceTier: PriceTierFromLevel(p.PriceLevel),
		}
		if s.PlaceID == "" {
			continue
		}
		if tier.Specified() && s.PriceTier.Specified() && s.PriceTier != tier {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) GetDetails(ctx context.Context, placeID string) (*model.PlaceDetails, error) {
	d, err := call(ctx, c, ServicePlaces, "get_details", func(ctx context.Context) (*google.PlaceDetails, error) {
		return c.places.GetDetails(ctx, placeID)
	})
	if err != nil {
		return nil, err
	}

	out := &model.PlaceDetails{
		Address:   d.FormattedAddress,
		PriceTier: PriceTierFromLevel(d.PriceLevel),
	}
	for _, r := range d.Reviews {
		if txt := strings.TrimSpace(r.Text.Text); txt != "" {
			out.Reviews = append(out.Reviews, txt)
		}
		if len(out.Reviews) == model.MaxStoredReviews {
			break
		}
	}
	if d.RegularOpeningHours != nil {
		out.Hours = d.RegularOpeningHours.WeekdayDescriptions
	}
	for _, p := range d.Photos {
		out.Photos = append(out.Photos, p.Name)
	}
	return out, nil
}

// PriceTierFromLevel maps a Places API priceLevel enum onto a PriceTier.
func PriceTierFromLevel(level string) model.PriceTier {
	switch level {
	case "PRICE_LEVEL_FREE", "PRICE_LEVEL_INEXPENSIVE":
		return model.PriceTierLow
	case "PRICE_LEVEL_MODERATE":
		return model.PriceTierMid
	case "PRICE_LEVEL_EXPENSIVE", "PRICE_LEVEL_VERY_EXPENSIVE":
		return model.PriceTierHigh
	default:
		return ""
	}
}

func call[T any](ctx context.Context, c *Client, service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := c.breakers.Get(service)
	policy := c.policy
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger(service, op)
	}

	v, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, cb, fn)
	})

	metrics.ProviderRequests.WithLabelValues(service, op, outcome(err)).Inc()
	if err != nil {
		zap.L().Debug("places: call failed",
			zap.String("service", service),
			zap.String("operation", op),
			zap.Error(err),
		)
		return v, eris.Wrapf(err, "places: %s", op)
	}
	return v, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "rejected"
	case resilience.IsRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}
