package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	icache "CapTrack/internal/service/cache"
	"CapTrack/internal/service/metrics"
	"CapTrack/internal/service/ratelimit"
	"CapTrack/internal/usecase"
	applogger "CapTrack/pkg/logger"
	"CapTrack/pkg/util"
)

// CapacityHandler is the plain net/http variant, used when the service
// runs without the Echo stack (metrics sidecar mode).
type CapacityHandler struct {
	uc    *usecase.CapacityReportUseCase
	cache icache.BytesCache
	rl    *ratelimit.Limiter
	l     *applogger.Logger
}

func NewCapacityHandler(uc *usecase.CapacityReportUseCase) *CapacityHandler {
	metrics.Register()
	return &CapacityHandler{uc: uc, rl: ratelimit.New()}
}

func (h *CapacityHandler) SetCache(c icache.BytesCache) { h.cache = c }

// SetLogger injects a structured logger.
func (h *CapacityHandler) SetLogger(l *applogger.Logger) { h.l = l }

// Routes mounts the capacity endpoints on a fresh mux.
func (h *CapacityHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/capacity", h.Report())
	mux.HandleFunc("/api/capacity/history", h.History())
	mux.HandleFunc("/api/capacity/bottlenecks", h.Bottlenecks())
	return mux
}

func (h *CapacityHandler) Report() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := "report"
		defer func() { metrics.CapacityLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

		if !h.rl.Allow(r.RemoteAddr+":report", 5, 2) {
			if h.l != nil {
				h.l.Warn("capacity.report rate_limited", applogger.String("remote", r.RemoteAddr))
			}
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		if b, ok := h.cached("report"); ok {
			h.writeJSON(w, endpoint, b)
			return
		}
		res, err := h.uc.Report(r.Context())
		if err != nil {
			metrics.CapacityErrors.WithLabelValues(endpoint).Inc()
			if h.l != nil {
				h.l.Error("capacity.report error", applogger.Error(err))
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b, err := json.Marshal(res)
		if err != nil {
			if h.l != nil {
				h.l.Error("capacity.report marshal_error", applogger.Error(err))
			}
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		h.store("report", b, 15*time.Second)
		h.writeJSON(w, endpoint, b)
	}
}

func (h *CapacityHandler) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := "history"
		defer func() { metrics.CapacityLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

		if !h.rl.Allow(r.RemoteAddr+":history", 3, 1) {
			if h.l != nil {
				h.l.Warn("capacity.history rate_limited", applogger.String("remote", r.RemoteAddr))
			}
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		limit := util.ParseIntDefault(r.URL.Query().Get("limit"), 500)
		cacheKey := "history:" + from + ":" + to + ":" + strconv.Itoa(limit)
		if b, ok := h.cached(cacheKey); ok {
			h.writeJSON(w, endpoint, b)
			return
		}
		res, err := h.uc.History(r.Context(), usecase.HistoryParams{From: from, To: to, Limit: limit})
		if err != nil {
			metrics.CapacityErrors.WithLabelValues(endpoint).Inc()
			if h.l != nil {
				h.l.Error("capacity.history error", applogger.Error(err))
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b, err := json.Marshal(res)
		if err != nil {
			if h.l != nil {
				h.l.Error("capacity.history marshal_error", applogger.Error(err))
			}
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		h.store(cacheKey, b, 30*time.Second)
		h.writeJSON(w, endpoint, b)
	}
}

func (h *CapacityHandler) Bottlenecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := "bottlenecks"
		defer func() { metrics.CapacityLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

		if !h.rl.Allow(r.RemoteAddr+":bottlenecks", 5, 2) {
			if h.l != nil {
				h.l.Warn("capacity.bottlenecks rate_limited", applogger.String("remote", r.RemoteAddr))
			}
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		top := util.ParseIntDefault(r.URL.Query().Get("top"), 10)
		cacheKey := "bottlenecks:" + strconv.Itoa(top)
		if b, ok := h.cached(cacheKey); ok {
			h.writeJSON(w, endpoint, b)
			return
		}
		res, err := h.uc.Bottlenecks(r.Context(), top)
		if err != nil {
			metrics.CapacityErrors.WithLabelValues(endpoint).Inc()
			if h.l != nil {
				h.l.Error("capacity.bottlenecks error", applogger.Error(err))
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b, err := json.Marshal(res)
		if err != nil {
			if h.l != nil {
				h.l.Error("capacity.bottlenecks marshal_error", applogger.Error(err))
			}
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		h.store(cacheKey, b, 15*time.Second)
		h.writeJSON(w, endpoint, b)
	}
}

func (h *CapacityHandler) cached(key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.GetBytes(key)
	if err != nil {
		if h.l != nil {
			h.l.Warn("capacity cache_get_error", applogger.Error(err))
		}
		return nil, false
	}
	if ok && h.l != nil {
		h.l.Debug("capacity cache_hit", applogger.String("key", key))
	}
	return b, ok
}

func (h *CapacityHandler) store(key string, b []byte, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetBytes(key, b, ttl); err != nil && h.l != nil {
		h.l.Warn("capacity cache_set_error", applogger.Error(err))
	}
}

func (h *CapacityHandler) writeJSON(w http.ResponseWriter, endpoint string, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil && h.l != nil {
		h.l.Warn("capacity write_error", applogger.Error(err), applogger.String("endpoint", endpoint))
	}
}
