// Package metrics exposes Prometheus collectors for the alert pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamalerts_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	alertsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_alerts_staged_total",
			Help: "Alerts written by stage passes, by rule",
		},
		[]string{"rule"},
	)

	stageRuleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_stage_rule_errors_total",
			Help: "Stage rule passes that ended in an error",
		},
		[]string{"rule"},
	)

	stageGuardSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamalerts_stage_guard_skips_total",
			Help: "Recipients skipped because another pass held the staging key",
		},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_dispatch_outcomes_total",
			Help: "Channel send attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamalerts_dispatch_duration_seconds",
			Help:    "Gateway call latency by channel",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	pendingChannelSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamalerts_pending_channel_sends",
			Help: "Pending channel sends seen by the last send pass",
		},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_circuit_breaker_rejections_total",
			Help: "Gateway calls rejected by an open circuit",
		},
		[]string{"gateway"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teamalerts_circuit_breaker_state",
			Help: "Gateway breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"gateway"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamalerts_job_runs_total",
			Help: "Job invocations by job, trigger and status",
		},
		[]string{"job", "trigger", "status"},
	)

	triggerMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamalerts_trigger_messages_in_flight",
			Help: "Trigger queue messages currently being handled",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamalerts_rate_limit_rejections_total",
			Help: "API requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAlertsStaged adds n alerts written by rule.
func RecordAlertsStaged(rule string, n int) {
	alertsStaged.WithLabelValues(rule).Add(float64(n))
}

// RecordStageRuleError counts a failed rule pass.
func RecordStageRuleError(rule string) {
	stageRuleErrors.WithLabelValues(rule).Inc()
}

// RecordStageGuardSkip counts a recipient skipped by the staging guard.
func RecordStageGuardSkip() {
	stageGuardSkips.Inc()
}

// RecordDispatch records one gateway attempt.
func RecordDispatch(channel, outcome string, duration time.Duration) {
	dispatchOutcomes.WithLabelValues(channel, outcome).Inc()
	dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetPendingChannelSends sets the pending gauge.
func SetPendingChannelSends(count int) {
	pendingChannelSends.Set(float64(count))
}

// RecordBreakerRejection counts a call rejected by an open circuit.
func RecordBreakerRejection(gateway string) {
	breakerRejections.WithLabelValues(gateway).Inc()
}

// SetBreakerState publishes a breaker's numeric state.
func SetBreakerState(gateway string, state int) {
	breakerState.WithLabelValues(gateway).Set(float64(state))
}

// RecordJobRun counts one job invocation.
func RecordJobRun(job, trigger string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	jobRuns.WithLabelValues(job, trigger, status).Inc()
}

// SetTriggerMessagesInFlight sets the in-flight trigger message count.
func SetTriggerMessagesInFlight(count int) {
	triggerMessagesInFlight.Set(float64(count))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route
// pattern, so ids in the path do not become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
