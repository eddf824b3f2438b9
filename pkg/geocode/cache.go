package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// cacheKey returns SHA-256 hex of the normalized query, or "" for a blank
// query. Case and whitespace differences collapse to the same key.
func cacheKey(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if normalized == "" {
		return ""
	}
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// checkCache looks up a cached geocode result, respecting the TTL if set.
func (g *geocoder) checkCache(ctx context.Context, key string) (*Result, error) {
	var lat, lng float64
	var formatted, quality string

	query := "SELECT latitude, longitude, formatted_address, quality FROM geocode_cache WHERE query_hash = $1"
	args := []any{key}
	if g.cacheTTL > 0 {
		query += " AND cached_at > $2"
		args = append(args, time.Now().Add(-g.cacheTTL))
	}

	row := g.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&lat, &lng, &formatted, &quality); err != nil {
		return nil, err // no row or scan error, caller falls through
	}

	zap.L().Debug("geocode cache hit", zap.String("key", key[:12]))
	return &Result{
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: formatted,
		Source:           "cache",
		Quality:          quality,
		Matched:          true,
	}, nil
}

// storeCache upserts a matched geocode result.
func (g *geocoder) storeCache(ctx context.Context, key string, result *Result) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO geocode_cache (query_hash, latitude, longitude, formatted_address, quality, cached_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (query_hash) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			formatted_address = EXCLUDED.formatted_address,
			quality = EXCLUDED.quality,
			cached_at = now()`,
		key, result.Latitude, result.Longitude, result.FormattedAddress, result.Quality,
	)
	if err != nil {
		return eris.Wrap(err, "geocode: store cache")
	}
	return nil
}
