package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Normalizes(t *testing.T) {
	k1 := cacheKey("Seattle, WA")
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, cacheKey("  seattle,   wa "))
	assert.NotEqual(t, k1, cacheKey("Tacoma, WA"))
	assert.Equal(t, "", cacheKey("   "))
}

func TestCheckCache_Hit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	key := cacheKey("Seattle, WA")
	mock.ExpectQuery(`SELECT latitude, longitude, formatted_address, quality FROM geocode_cache`).
		WithArgs(key, pgxmock.AnyArg()).
		WillReturnRows(
			pgxmock.NewRows([]string{"latitude", "longitude", "formatted_address", "quality"}).
				AddRow(47.6062, -122.3321, "Seattle, WA, USA", "approximate"),
		)

	g := &geocoder{pool: mock, cacheTTL: 24 * time.Hour}
	result, err := g.checkCache(context.Background(), key)

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "cache", result.Source)
	assert.InDelta(t, 47.6062, result.Latitude, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO geocode_cache`).
		WithArgs("hashkey", 47.6, -122.3, "Seattle, WA, USA", "approximate").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	g := &geocoder{pool: mock}
	err = g.storeCache(context.Background(), "hashkey", &Result{
		Latitude: 47.6, Longitude: -122.3, FormattedAddress: "Seattle, WA, USA", Quality: "approximate",
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGeocode_CacheHitSkipsGoogle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT latitude, longitude, formatted_address, quality FROM geocode_cache`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(
			pgxmock.NewRows([]string{"latitude", "longitude", "formatted_address", "quality"}).
				AddRow(47.6, -122.3, "Seattle", "approximate"),
		)

	c := NewClient("test-key", WithBaseURL(srv.URL), WithCache(mock, 0))
	result, err := c.Geocode(context.Background(), "Seattle")

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, int32(0), calls.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGeocode_CacheMissStoresMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"OK","results":[{"geometry":{"location":{"lat":47.6,"lng":-122.3},"location_type":"APPROXIMATE"},"formatted_address":"Seattle, WA, USA"}]}`)
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT latitude`).WithArgs(pgxmock.AnyArg()).WillReturnError(assert.AnError)
	mock.ExpectExec(`INSERT INTO geocode_cache`).
		WithArgs(pgxmock.AnyArg(), 47.6, -122.3, "Seattle, WA, USA", "approximate").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	c := NewClient("test-key", WithBaseURL(srv.URL), WithCache(mock, 0))
	result, err := c.Geocode(context.Background(), "Seattle")

	require.NoError(t, err)
	assert.Equal(t, "google", result.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGeocode_UnmatchedNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT latitude`).WithArgs(pgxmock.AnyArg()).WillReturnError(assert.AnError)

	c := NewClient("test-key", WithBaseURL(srv.URL), WithCache(mock, 0))
	result, err := c.Geocode(context.Background(), "Atlantis")

	require.NoError(t, err)
	assert.False(t, result.Matched)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGeocode_EmptyQuery(t *testing.T) {
	_, err := NewClient("k").Geocode(context.Background(), " ")
	assert.Error(t, err)
}
