package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/authz"
	"github.com/lalithlochan/teamalerts/internal/circuitbreaker"
	"github.com/lalithlochan/teamalerts/internal/jobs"
	"github.com/lalithlochan/teamalerts/internal/metrics"
	"github.com/lalithlochan/teamalerts/internal/redis"
)

// AdminPermission gates the job and broadcast endpoints.
const AdminPermission = "admin"

// Pinger reports data store reachability.
type Pinger interface {
	Health(ctx context.Context) error
}

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Handler     *Handler
	Authorizer  authz.Authorizer
	RateLimiter *redis.RateLimiter
	Database    Pinger
	Breakers    []*circuitbreaker.CircuitBreaker
	Logger      *zap.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	h := cfg.Handler

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireUser)
		r.Use(RateLimitMiddleware(cfg.RateLimiter, logger, UserKeyFunc))

		r.Get("/channels", h.ListChannels)
		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts/{channelSendID}/dismiss", h.DismissAlert)
		r.With(RequirePermission(cfg.Authorizer, logger, AdminPermission)).Post("/alerts/broadcast", h.Broadcast)

		r.Route("/jobs", func(r chi.Router) {
			r.Use(RequirePermission(cfg.Authorizer, logger, AdminPermission))
			for _, job := range []string{jobs.JobStage, jobs.JobSend, jobs.JobRun} {
				r.Post("/"+job, h.RunJob(job))
			}
		})
	})

	r.Get("/health", healthHandler(cfg.Database, cfg.Breakers))
	r.Handle("/metrics", metrics.Handler())

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Breakers []circuitbreaker.Stats `json:"breakers"`
}

func healthHandler(database Pinger, breakers []*circuitbreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Database: "ok", Breakers: []circuitbreaker.Stats{}}
		status := http.StatusOK

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.Health(ctx); err != nil {
				resp.Status = "degraded"
				resp.Database = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		for _, b := range breakers {
			resp.Breakers = append(resp.Breakers, b.Stats())
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
