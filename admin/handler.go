// Package admin exposes a pool's statistics, tracked connections and
// Prometheus metrics over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guileen/connpool/logger"
	"github.com/guileen/connpool/pool"
)

const probeTimeout = time.Minute

type Handler struct {
	pool     *pool.Pool
	registry *prometheus.Registry
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewHandler creates a handler for p with its own metrics registry holding
// the pool collector and the Go runtime collectors.
func NewHandler(p *pool.Pool) *Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		pool.NewCollector(p),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Handler{pool: p, registry: reg}
}

// Registry returns the metrics registry so callers can add collectors.
func (h *Handler) Registry() *prometheus.Registry {
	return h.registry
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/stats", h.Stats)
	r.Get("/tracked", h.TrackedConnections)
	r.Post("/tracked/close", h.CloseTrackedConnections)
	r.Post("/probe", h.Probe)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
}

// Router returns a chi router serving the admin routes. Every request is
// logged with its request id and the pool name.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logContext)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// logContext stores the request id and pool name in the request context,
// where the logger picks them up.
func (h *Handler) logContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithContextValue(r.Context(), logger.PoolKey, h.pool.Name())
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logger.WithContextValue(ctx, logger.RequestIDKey, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.InfoContext(r.Context(), "admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			logger.Duration("elapsed", time.Since(start)))
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.pool.Stats().Closed {
		logger.DebugContext(r.Context(), "health check on a closed pool")
		http.Error(w, "pool closed", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Stats())
}

// TrackedConnections writes the tracking dump as text, or the snapshot as
// JSON with ?format=json.
func (h *Handler) TrackedConnections(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		infos := h.pool.TrackedConnections()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled":     h.pool.TrackingEnabled(),
			"count":       len(infos),
			"connections": infos,
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.pool.DumpTrackedConnections(w); err != nil {
		logger.ErrorContext(r.Context(), "tracking dump failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) CloseTrackedConnections(w http.ResponseWriter, r *http.Request) {
	if !h.pool.TrackingEnabled() {
		writeError(w, http.StatusConflict, errTrackingDisabled)
		return
	}
	results := h.pool.CloseTrackedConnections()
	logger.WarnContext(r.Context(), "force-closed tracked connections",
		logger.Operation("close_tracked"), "closed", len(results))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"closed":  len(results),
		"results": results,
	})
}

func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	res := h.pool.ProbeNow(ctx)
	logger.InfoContext(ctx, "probe cycle finished",
		logger.Operation("probe"), "probed", res.Probed, "evicted", res.Evicted)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
