package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, func()) {
	t.Helper()
	client, cleanup := setupTestRedis(t)
	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: limit, Window: window}), cleanup
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := newTestRateLimiter(t, 3, time.Minute)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "user:1")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 2-i {
			t.Errorf("request %d: remaining = %d, want %d", i, result.Remaining, 2-i)
		}
	}

	result, err := limiter.Allow(ctx, "user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("fourth request should be blocked")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, cleanup := newTestRateLimiter(t, 1, time.Minute)
	defer cleanup()
	ctx := context.Background()

	limiter.Allow(ctx, "user:1")

	result, _ := limiter.Allow(ctx, "user:2")
	if !result.Allowed {
		t.Fatal("user:2 should be allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter, cleanup := newTestRateLimiter(t, 1, time.Minute)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }
	limiter.Allow(ctx, "user:1")

	limiter.now = func() time.Time { return base.Add(2 * time.Minute) }
	result, err := limiter.Allow(ctx, "user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter, cleanup := newTestRateLimiter(t, 10, time.Minute)
	defer cleanup()
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "jobs", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 5 {
		t.Fatalf("AllowN(5) = %+v", result)
	}

	result, _ = limiter.AllowN(ctx, "jobs", 6)
	if result.Allowed {
		t.Fatal("AllowN(6) should be blocked")
	}
}
