// Package opsserver exposes the operational HTTP surface described in
// SPEC_FULL.md §6.1: liveness, Prometheus scrape, and a debug endpoint over
// the currently observed active set.
package opsserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaindexer/chaindexer/internal/election"
)

// New builds the ops HTTP handler. elector may be nil before boot completes,
// in which case /debug/active-nodes reports an empty set rather than panicking.
func New(elector *election.Elector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/debug/active-nodes", func(w http.ResponseWriter, req *http.Request) {
		ids := []int64{}
		if elector != nil {
			for _, n := range elector.ActiveSet() {
				ids = append(ids, n.ID)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"active_node_ids": ids})
	})

	return r
}
