package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWeekdayCache(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewWeekdayCache(rdb, "test:", time.Minute)
	ctx := context.Background()

	if _, ok, err := c.GetWeekdays(ctx); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	set := availability.WeekdaySet(0).With(time.Monday).With(time.Friday)
	if err := c.SetWeekdays(ctx, set); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.GetWeekdays(ctx)
	if err != nil || !ok || got != set {
		t.Fatalf("expected %08b, got %08b ok=%v err=%v", set, got, ok, err)
	}
	if ttl := mr.TTL("test:availability:weekdays"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.GetWeekdays(ctx); ok {
		t.Fatal("expected entry to expire")
	}

	_ = c.SetWeekdays(ctx, set)
	if err := c.InvalidateWeekdays(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetWeekdays(ctx); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestWeekdayCache_RedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	if _, _, err := NewWeekdayCache(rdb, "", 0).GetWeekdays(context.Background()); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}

func TestIdempotencyStore(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewIdempotencyStore(rdb, "test:", time.Hour)
	ctx := context.Background()

	resp, err := s.Reserve(ctx, "cust-1", "key-1", "h1")
	if err != nil || resp != nil {
		t.Fatalf("expected fresh reservation, got %v %v", resp, err)
	}
	if _, err := s.Reserve(ctx, "cust-1", "key-1", "h1"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
	// Keys are scoped per caller.
	if resp, err := s.Reserve(ctx, "cust-2", "key-1", "h1"); err != nil || resp != nil {
		t.Fatalf("expected independent scope, got %v %v", resp, err)
	}

	if err := s.Complete(ctx, "cust-1", "key-1", StoredResponse{StatusCode: 201, Body: []byte(`{"appointment_ids":["a1"]}`), RequestHash: "h1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	resp, err = s.Reserve(ctx, "cust-1", "key-1", "h1")
	if err != nil || resp == nil || resp.StatusCode != 201 || string(resp.Body) != `{"appointment_ids":["a1"]}` {
		t.Fatalf("expected replay, got %+v %v", resp, err)
	}
	if _, err := s.Reserve(ctx, "cust-1", "key-1", "h2"); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused for a different request, got %v", err)
	}

	if err := s.Release(ctx, "cust-2", "key-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if resp, err := s.Reserve(ctx, "cust-2", "key-1", "h1"); err != nil || resp != nil {
		t.Fatalf("expected reservation after release, got %v %v", resp, err)
	}
}
