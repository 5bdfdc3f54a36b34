// Package server exposes the read-only HTTP surface of the simulator:
// a JSON snapshot of both accounts, Prometheus metrics and a health probe.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"papertrader/internal/model"
)

// Snapshotter provides a consistent read of the engine state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// New builds the HTTP server. All handlers are read-only; the engine is
// never mutated through this surface.
func New(addr string, eng Snapshotter) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/snapshot", snapshotHandler(eng)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// snapshotHandler serves the combined dual-account snapshot as JSON.
func snapshotHandler(eng Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := eng.Snapshot(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("snapshot request failed")
			http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Error().Err(err).Msg("encoding snapshot response")
		}
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
