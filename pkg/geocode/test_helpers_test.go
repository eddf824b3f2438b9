package geocode

import (
	"net/http/httptest"

	"golang.org/x/time/rate"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// newTestGeocoder points a geocoder at a test server.
func newTestGeocoder(srv *httptest.Server) *geocoder {
	return &geocoder{
		httpClient: srv.Client(),
		apiKey:     "test-key",
		baseURL:    srv.URL,
		limiter:    newTestLimiter(),
	}
}
