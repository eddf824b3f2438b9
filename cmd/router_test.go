package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/recommend"
)

type stubRecommender struct {
	got  recommend.Request
	resp *recommend.Response
	err  error
}

func (s *stubRecommender) Recommend(_ context.Context, req recommend.Request) (*recommend.Response, error) {
	s.got = req
	return s.resp, s.err
}

func okHealth(context.Context) (map[string]string, error) {
	return map[string]string{"google_places": "closed"}, nil
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	h := newRouter(&stubRecommender{}, okHealth, []string{"*"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "closed", body.Breakers["google_places"])
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	health := func(context.Context) (map[string]string, error) {
		return map[string]string{}, errors.New("connection refused")
	}
	h := newRouter(&stubRecommender{}, health, []string{"*"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newRouter(&stubRecommender{}, okHealth, []string{"*"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRecommendEndpoint_OK(t *testing.T) {
	stub := &stubRecommender{resp: &recommend.Response{
		RequestID: "req-1",
		Source:    recommend.SourceProvider,
		Recommendations: []recommend.Item{
			{EntityID: 1, Name: "Nook Cafe", CombinedScore: 0.91},
		},
	}}
	h := newRouter(stub, okHealth, []string{"*"})

	rr := post(t, h, `{"location":"Seattle, WA","mood":"cozy","priceRange":"low","requirements":["wifi"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "Seattle, WA", stub.got.Location)
	assert.Equal(t, model.VibeCozy, stub.got.Mood)
	assert.Equal(t, model.PriceTierLow, stub.got.PriceRange)
	assert.Equal(t, []model.Amenity{model.AmenityWifi}, stub.got.Requirements)

	var resp recommend.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "Nook Cafe", resp.Recommendations[0].Name)
}

func TestRecommendEndpoint_BadBody(t *testing.T) {
	h := newRouter(&stubRecommender{}, okHealth, []string{"*"})

	for _, body := range []string{`not json`, `{"location":"x","mood":"cozy","extra":1}`} {
		rr := post(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Contains(t, rr.Body.String(), "invalid request body")
	}
}

func TestRecommendEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{eris.Wrap(recommend.ErrInvalidRequest, "mood is required"), http.StatusBadRequest},
		{recommend.ErrGeocode, http.StatusUnprocessableEntity},
		{recommend.ErrNotFound, http.StatusNotFound},
		{recommend.ErrTimeout, http.StatusGatewayTimeout},
		{recommend.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.want), func(t *testing.T) {
			h := newRouter(&stubRecommender{err: tt.err}, okHealth, []string{"*"})
			rr := post(t, h, `{"location":"x","mood":"cozy"}`)
			assert.Equal(t, tt.want, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRecommendEndpoint_CORSPreflight(t *testing.T) {
	h := newRouter(&stubRecommender{}, okHealth, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/recommendations", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
