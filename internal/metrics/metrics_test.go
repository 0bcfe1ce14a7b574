package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestRecordDispatch(t *testing.T) {
	before := value(t, dispatchOutcomes.WithLabelValues("txt", "recipient_incapable"))
	RecordDispatch("txt", "recipient_incapable", 10*time.Millisecond)
	after := value(t, dispatchOutcomes.WithLabelValues("txt", "recipient_incapable"))

	if after-before != 1 {
		t.Errorf("dispatch counter delta = %v, want 1", after-before)
	}
}

func TestRecordAlertsStaged(t *testing.T) {
	before := value(t, alertsStaged.WithLabelValues("field_schedule"))
	RecordAlertsStaged("field_schedule", 6)
	if got := value(t, alertsStaged.WithLabelValues("field_schedule")) - before; got != 6 {
		t.Errorf("staged delta = %v, want 6", got)
	}
}

func TestSetPendingChannelSends(t *testing.T) {
	SetPendingChannelSends(12)
	if got := value(t, pendingChannelSends); got != 12 {
		t.Errorf("pending gauge = %v, want 12", got)
	}
	SetPendingChannelSends(0)
}

func TestRecordJobRun(t *testing.T) {
	okBefore := value(t, jobRuns.WithLabelValues("send", "cron", "ok"))
	errBefore := value(t, jobRuns.WithLabelValues("send", "cron", "error"))

	RecordJobRun("send", "cron", nil)
	RecordJobRun("send", "cron", errors.New("db down"))

	if got := value(t, jobRuns.WithLabelValues("send", "cron", "ok")) - okBefore; got != 1 {
		t.Errorf("ok delta = %v", got)
	}
	if got := value(t, jobRuns.WithLabelValues("send", "cron", "error")) - errBefore; got != 1 {
		t.Errorf("error delta = %v", got)
	}
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("discord", 1)
	if got := value(t, breakerState.WithLabelValues("discord")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
	SetBreakerState("discord", 0)
	if got := value(t, breakerState.WithLabelValues("discord")); got != 0 {
		t.Errorf("breaker state = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	RecordBreakerRejection("email")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "teamalerts_circuit_breaker_rejections_total") {
		t.Error("metrics output missing breaker counter")
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/alerts/{channelSendID}/dismiss", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	before := value(t, httpRequestsTotal.WithLabelValues("POST", "/v1/alerts/{channelSendID}/dismiss", "409"))

	req := httptest.NewRequest("POST", "/v1/alerts/0b6f6c1e-2d0a-4c55-9a0e-6f1f3f0a9b11/dismiss", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	after := value(t, httpRequestsTotal.WithLabelValues("POST", "/v1/alerts/{channelSendID}/dismiss", "409"))
	if after-before != 1 {
		t.Errorf("route-labelled counter delta = %v, want 1", after-before)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
