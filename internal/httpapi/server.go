package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clipsd/internal/quant"
	"clipsd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	PressureLevel() int
	Resources() []types.ResourceStatus
	ReleaseStats() types.ReleaseStats
	SwitchHistory() []types.SwitchRecord
	ProtocolHistory() []types.ProtocolExecution
	Checkpoints() []types.CheckpointSummary
	SwitchModel(name, level string) error
	ReleaseExpired(force bool) int
	Counters() types.CounterTotals
	Ready() bool
}

// switchRequest is the body of POST /quant/{model}/switch.
type switchRequest struct {
	Level string `json:"level"`
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	// @Summary Daemon status
	// @Produce json
	// @Success 200 {object} types.StatusResponse
	// @Router /status [get]
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"resources": svc.Resources()})
	})

	r.Get("/resources/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.ReleaseStats())
	})

	// Operational lever: releases everything expired right now instead of
	// waiting for the next tracker sweep. force=1 ignores the grace window.
	r.Post("/resources/release", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown() {
			writeJSONError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		force := r.URL.Query().Get("force") == "1"
		released := svc.ReleaseExpired(force)
		writeJSON(w, map[string]int{"released": released})
	})

	r.Get("/quant/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"switches": svc.SwitchHistory()})
	})

	r.Post("/quant/{model}/switch", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown() {
			writeJSONError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req switchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Level) == "" {
			writeJSONError(w, http.StatusBadRequest, "level is required")
			return
		}
		model := chi.URLParam(r, "model")
		start := time.Now()
		err := svc.SwitchModel(model, req.Level)
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("model", model).Str("level", req.Level).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Err(err).Msg("switch request")
		}
		if err != nil {
			writeJSONError(w, switchStatusCode(err), err.Error())
			return
		}
		writeJSON(w, map[string]string{"model": model, "level": req.Level})
	})

	r.Get("/protocol/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"executions": svc.ProtocolHistory()})
	})

	r.Get("/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"checkpoints": svc.Checkpoints()})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint. Domain gauges live on a per-mux registry
	// merged with the default one.
	reg := prometheus.NewRegistry()
	newDomainCollectors(svc, reg)
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	r.Get("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}).ServeHTTP)

	MountSwagger(r)

	return r
}

// switchStatusCode maps controller errors to HTTP status codes.
func switchStatusCode(err error) int {
	switch {
	case quant.IsUnknownModel(err):
		return http.StatusNotFound
	case quant.IsUnknownLevel(err), quant.IsLevelNotInChain(err):
		return http.StatusUnprocessableEntity
	case quant.IsSwitchInProgress(err):
		return http.StatusConflict
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
