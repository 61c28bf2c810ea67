package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"divecli/internal/cache"
	"divecli/internal/websocket"
)

// CacheStatsSource reports per-cache statistics
type CacheStatsSource interface {
	CacheStats() []cache.Stats
}

// HubStatsSource reports websocket hub statistics
type HubStatsSource interface {
	Stats() websocket.HubStats
}

// MetricsHandler serves JSON snapshots of the in-process caches and hub.
// Prometheus metrics are served separately on /metrics.
type MetricsHandler struct {
	caches CacheStatsSource
	hub    HubStatsSource
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(caches CacheStatsSource, hub HubStatsSource) *MetricsHandler {
	return &MetricsHandler{caches: caches, hub: hub}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/caches", h.GetCaches)
	r.Get("/websocket", h.GetWebSocket)
	return r
}

// GetCaches handles GET /api/metrics/caches
func (h *MetricsHandler) GetCaches(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.caches.CacheStats())
}

// GetWebSocket handles GET /api/metrics/websocket
func (h *MetricsHandler) GetWebSocket(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.hub.Stats())
}
