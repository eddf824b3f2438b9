package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/recommend"
)

const maxRequestBytes = 64 << 10

// recommender is the part of the service the HTTP layer needs.
type recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Response, error)
}

// healthFunc reports dependency health plus breaker states.
type healthFunc func(ctx context.Context) (map[string]string, error)

func newRouter(svc recommender, health healthFunc, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		states, err := health(req.Context())
		body := map[string]any{"status": "ok", "breakers": states}
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/recommendations", recommendHandler(svc))
	})

	return r
}

func recommendHandler(svc recommender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommend.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := svc.Recommend(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				zap.L().Warn("recommendation request failed",
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.Int("status", status),
					zap.Error(err),
				)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recommend.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, recommend.ErrGeocode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, recommend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recommend.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, recommend.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
