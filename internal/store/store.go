// Package store persists cafes, their analysis scores and the durable
// search cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cafe-cli/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// NearbyFilter narrows a spatial query.
type NearbyFilter struct {
	Origin       model.Location
	RadiusMeters float64
	PriceTier    model.PriceTier // unspecified matches every tier
	Limit        int
}

// Store defines the persistence interface for the recommender.
type Store interface {
	// Cafes
	UpsertCafes(ctx context.Context, cafes []model.Cafe) ([]model.Cafe, error)
	GetCafes(ctx context.Context, ids []int64) ([]model.Cafe, error)
	FindNearby(ctx context.Context, f NearbyFilter) ([]model.Cafe, error)

	// Analysis
	ReplaceScores(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64, analyzedAt time.Time) error
	AnalysisStamps(ctx context.Context, cafeID int64) (model.AnalysisStamps, error)

	// Durable search cache
	GetSearchCache(ctx context.Context, key string) (*model.SearchCacheEntry, error)
	PutSearchCache(ctx context.Context, key string, ids []int64, updatedAt time.Time) error
	DeleteSearchCache(ctx context.Context, key string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// orderByIDs returns cafes in the order of ids, skipping ids with no row.
func orderByIDs(ids []int64, cafes []model.Cafe) []model.Cafe {
	byID := make(map[int64]model.Cafe, len(cafes))
	for _, c := range cafes {
		byID[c.ID] = c
	}
	out := make([]model.Cafe, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// matchesTier applies the price filter used by FindNearby.
func matchesTier(want, have model.PriceTier) bool {
	return !want.Specified() || want == have
}
