package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/authz"
	"github.com/lalithlochan/teamalerts/internal/circuitbreaker"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/db/memdb"
	"github.com/lalithlochan/teamalerts/internal/jobs"
	"github.com/lalithlochan/teamalerts/internal/redis"
)

type fakeRunner struct {
	summary string
	err     error
	jobs    []string
}

func (f *fakeRunner) Execute(_ context.Context, job, trigger string) (string, error) {
	f.jobs = append(f.jobs, job+"/"+trigger)
	return f.summary, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Health(context.Context) error { return p.err }

type testEnv struct {
	store  *memdb.Store
	runner *fakeRunner
	router http.Handler
}

func newTestEnv(t *testing.T, limiter *redis.RateLimiter) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memdb.New()
	store.AddUser(db.User{ID: 1, Username: "admin", Active: true}, AdminPermission)
	store.AddUser(db.User{ID: 2, Username: "scout", Active: true})

	runner := &fakeRunner{summary: "NONE TO SEND"}
	h := NewHandler(logger, alerts.NewService(store, logger), store, runner)

	return &testEnv{
		store:  store,
		runner: runner,
		router: NewRouter(RouterConfig{
			Handler:     h,
			Authorizer:  authz.NewDirectoryAuthorizer(store, logger),
			RateLimiter: limiter,
			Database:    fakePinger{},
			Breakers:    []*circuitbreaker.CircuitBreaker{circuitbreaker.New(circuitbreaker.DefaultConfig("email"), logger)},
			Logger:      logger,
		}),
	}
}

func (e *testEnv) do(method, path string, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestListAlerts(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Seed(db.Alert{UserID: 2, Subject: "mine"}, db.ChannelSend{Channel: db.ChannelNotification})
	env.store.Seed(db.Alert{UserID: 1, Subject: "not mine"}, db.ChannelSend{Channel: db.ChannelNotification})

	rec := env.do(http.MethodGet, "/v1/alerts?channel=notification", "2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp AlertListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Alerts[0].Subject != "mine" {
		t.Errorf("response = %+v", resp)
	}
}

func TestListAlerts_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{"no user", "/v1/alerts?channel=email", "", http.StatusUnauthorized},
		{"bad user", "/v1/alerts?channel=email", "abc", http.StatusUnauthorized},
		{"missing channel", "/v1/alerts", "2", http.StatusBadRequest},
		{"unknown channel", "/v1/alerts?channel=fax", "2", http.StatusBadRequest},
		{"empty list", "/v1/alerts?channel=email", "2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.path, tt.user)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestDismissAlert(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.store.Seed(db.Alert{UserID: 2}, db.ChannelSend{Channel: db.ChannelNotification})
	voided := env.store.Seed(db.Alert{UserID: 2}, db.ChannelSend{Channel: db.ChannelNotification, Void: true})
	path := "/v1/alerts/" + id.String() + "/dismiss"

	if rec := env.do(http.MethodPost, path, "2"); rec.Code != http.StatusOK {
		t.Fatalf("first dismiss status = %d (%s)", rec.Code, rec.Body)
	}
	cs, _ := env.store.ChannelSend(id)
	if cs.DismissedTime == nil {
		t.Error("dismissed_time not set")
	}

	if rec := env.do(http.MethodPost, path, "2"); rec.Code != http.StatusConflict {
		t.Errorf("second dismiss status = %d, want 409", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/v1/alerts/"+voided.String()+"/dismiss", "2"); rec.Code != http.StatusNotFound {
		t.Errorf("void dismiss status = %d, want 404", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/v1/alerts/not-a-uuid/dismiss", "2"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestDismissAlert_OtherUser(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.store.Seed(db.Alert{UserID: 2}, db.ChannelSend{Channel: db.ChannelNotification})

	if rec := env.do(http.MethodPost, "/v1/alerts/"+id.String()+"/dismiss", "1"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListChannels(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/v1/channels", "2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var types []db.CommChannelType
	if err := json.NewDecoder(rec.Body).Decode(&types); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(types) != 5 {
		t.Errorf("channels = %d, want 5", len(types))
	}
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, job := range []string{jobs.JobStage, jobs.JobSend, jobs.JobRun} {
		rec := env.do(http.MethodPost, "/v1/jobs/"+job, "1")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d (%s)", job, rec.Code, rec.Body)
		}
		if !strings.Contains(rec.Body.String(), "NONE TO SEND") {
			t.Errorf("%s body = %q", job, rec.Body)
		}
	}
	if got := strings.Join(env.runner.jobs, ","); got != "stage/api,send/api,run/api" {
		t.Errorf("runner calls = %s", got)
	}

	if rec := env.do(http.MethodPost, "/v1/jobs/run", "2"); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}
}

func TestJobEndpoint_StoreOutage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.err = errors.New("connection refused")

	if rec := env.do(http.MethodPost, "/v1/jobs/send", "1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.AddUser(db.User{ID: 3, Username: "mentor", Active: true}, "meeting_notif")
	env.store.AddUser(db.User{ID: 4, Username: "lead", Active: true}, "meeting_notif")

	rec := env.post("/v1/alerts/broadcast", "1",
		`{"role":"meeting_notif","subject":"Shop closed","body":"No build tonight","channels":["email","notification"],"exclude_user_id":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp BroadcastResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Alerts != 1 {
		t.Errorf("alerts = %d, want 1", resp.Alerts)
	}

	staged := env.store.Alerts()
	if len(staged) != 1 || staged[0].UserID != 3 || staged[0].Subject != "Shop closed" {
		t.Errorf("staged = %+v", staged)
	}
	if got := len(env.store.ChannelSends()); got != 2 {
		t.Errorf("channel sends = %d, want 2", got)
	}
}

func TestBroadcast_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"non-admin", "2", `{"role":"admin","subject":"s","channels":["email"]}`, http.StatusForbidden},
		{"bad json", "1", `{`, http.StatusBadRequest},
		{"missing role", "1", `{"subject":"s","channels":["email"]}`, http.StatusBadRequest},
		{"no channels", "1", `{"role":"admin","subject":"s"}`, http.StatusBadRequest},
		{"unknown channel", "1", `{"role":"admin","subject":"s","channels":["fax"]}`, http.StatusBadRequest},
		{"empty role", "1", `{"role":"meeting_notif","subject":"s","channels":["email"]}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post("/v1/alerts/broadcast", tt.user, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
	if got := len(env.store.Alerts()); got != 0 {
		t.Errorf("alerts = %d, want 0", got)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || len(resp.Breakers) != 1 || resp.Breakers[0].State != "closed" {
		t.Errorf("health = %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	limiter := redis.NewRateLimiter(redis.NewWithClient(rdb, zap.NewNop()), zap.NewNop(),
		redis.RateLimitConfig{Limit: 2, Window: time.Minute})

	env := newTestEnv(t, limiter)
	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodGet, "/v1/alerts?channel=email", "2"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/v1/alerts?channel=email", "2")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	if rec := env.do(http.MethodGet, "/v1/alerts?channel=email", "1"); rec.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", rec.Code)
	}
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if got := UserKeyFunc(req); got != "" {
		t.Errorf("UserKeyFunc() without header = %q", got)
	}
	req.Header.Set(UserIDHeader, "7")
	if got := UserKeyFunc(req); got != "user:7" {
		t.Errorf("UserKeyFunc() = %q", got)
	}
}
