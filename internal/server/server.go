// Package server exposes the HTTP query surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/service"
)

// Nearby is the query engine behind /vehicles/nearby.
type Nearby interface {
	GetVehiclesNearby(ctx context.Context, params service.QueryParams, filters service.VehicleFilters) ([]model.Vehicle, error)
}

// NewRouter assembles the full route table.
func NewRouter(nearby Nearby, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(log))
	r.Use(logging(log))

	r.Get("/healthz", liveness)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/vehicles/nearby", handleNearby(nearby, log))

	return r
}

// sets up http and starts serving
func Run(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleNearby(nearby Nearby, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, filters, err := ParseNearbyRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		vehicles, err := nearby.GetVehiclesNearby(r.Context(), params, filters)
		if err != nil {
			log.Error().Err(err).Msg("nearby query failed")
			writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			return
		}
		if vehicles == nil {
			vehicles = []model.Vehicle{}
		}

		writeJSON(w, http.StatusOK, nearbyResponse{Vehicles: vehicles})
	}
}

type nearbyResponse struct {
	Vehicles []model.Vehicle `json:"vehicles"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("http request")
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// basic panic recovery middleware
func recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("err", rec).Msg("panic recovered")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
