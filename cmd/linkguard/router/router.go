// Package router configures HTTP routes for the controller's status API.
//
// Routes configured:
//   - GET /decision/current?link=<name> - Latest decision snapshot for a link
//   - GET /healthz - Liveness (always 200 OK)
//   - GET /readyz - Readiness, 503 until the control loop reports healthy
//   - GET /metrics - Prometheus metrics endpoint
//
// Snapshots older than the stale threshold carry an X-Linkguard-Stale header.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/linkguard/pkg/httpx"
	"github.com/HatiCode/linkguard/pkg/storage"
)

// StaleHeader marks snapshots older than the stale threshold.
const StaleHeader = "X-Linkguard-Stale"

// SetupRoutes configures HTTP endpoints for the controller. ready backs
// /readyz; a nil ready always succeeds.
func SetupRoutes(store storage.Store, staleAfter time.Duration, ready func() error, logger *slog.Logger) *http.ServeMux {
	if ready == nil {
		ready = func() error { return nil }
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /readyz", httpx.HealthHandlerWithCheck(ready))
	mux.HandleFunc("GET /decision/current", handleGetDecision(store, staleAfter, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// handleGetDecision returns a handler for GET /decision/current?link=<name>.
func handleGetDecision(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link := r.URL.Query().Get("link")
		if link == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "link parameter required")
			return
		}
		if err := storage.ValidateLinkName(link); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid link name format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, link)
		if err != nil {
			logger.Error("failed to get decision", "link", link, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no decision for link %q", link))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
