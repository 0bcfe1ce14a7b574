package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStageGuard_ReserveOnce(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	guard := NewStageGuard(client, zap.NewNop(), time.Hour)
	ctx := context.Background()
	key := StageKey("field_schedule", "12", 7, "1")

	ok, err := guard.Reserve(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first reserve = %v, %v; want true, nil", ok, err)
	}

	ok, err = guard.Reserve(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second reserve should not acquire the key")
	}
}

func TestStageGuard_ReleaseAllowsRetry(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	guard := NewStageGuard(client, zap.NewNop(), time.Hour)
	ctx := context.Background()
	key := StageKey("meeting", "3", 1, "start")

	if ok, _ := guard.Reserve(ctx, key); !ok {
		t.Fatal("reserve should succeed")
	}
	if err := guard.Release(ctx, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, _ := guard.Reserve(ctx, key); !ok {
		t.Fatal("reserve after release should succeed")
	}
}

func TestStageGuard_KeysAreDistinctPerThreshold(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	guard := NewStageGuard(client, zap.NewNop(), 0)
	ctx := context.Background()

	for _, threshold := range []string{"1", "2", "3"} {
		ok, err := guard.Reserve(ctx, StageKey("field_schedule", "12", 7, threshold))
		if err != nil || !ok {
			t.Fatalf("threshold %s: reserve = %v, %v", threshold, ok, err)
		}
	}
}

func TestStageKey(t *testing.T) {
	got := StageKey("form:team-app", "55", 3, "0")
	if got != "stage:form:team-app:55:3:0" {
		t.Errorf("StageKey() = %q", got)
	}
}
