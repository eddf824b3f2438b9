package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/cafe-cli/internal/model"
)

// FastTier is the short-lived, process-local or networked tier. An error
// means the tier is unreachable, not that the key is absent.
type FastTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DurableTier is the persistent tier. The store implements it.
type DurableTier interface {
	GetSearchCache(ctx context.Context, key string) (*model.SearchCacheEntry, error)
	PutSearchCache(ctx context.Context, key string, ids []int64, updatedAt time.Time) error
	DeleteSearchCache(ctx context.Context, key string) error
	ReplaceScores(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64, analyzedAt time.Time) error
	AnalysisStamps(ctx context.Context, cafeID int64) (model.AnalysisStamps, error)
}

// MemoryTier is a FastTier backed by go-cache. It never returns errors.
type MemoryTier struct {
	c *gocache.Cache
}

// NewMemoryTier creates an in-process fast tier. Expired items are purged
// every cleanup interval.
func NewMemoryTier(defaultTTL, cleanup time.Duration) *MemoryTier {
	return &MemoryTier{c: gocache.New(defaultTTL, cleanup)}
}

func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (m *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len reports the number of live items.
func (m *MemoryTier) Len() int {
	return m.c.ItemCount()
}
