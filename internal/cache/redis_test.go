package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/model"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(context.Background(), &config.CacheConfig{Addr: mr.Addr(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestConsumeStoresSnapshotAndValues(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	snapshot := model.NewSnapshot("vmc-1", "bench", []model.Reading{
		{CapteurID: 6, Name: "temperature", Value: 21.5},
		{CapteurID: 15, Name: "co2", Value: 0.4189},
	})
	if err := c.Consume(ctx, snapshot); err != nil {
		t.Fatalf("consume: %v", err)
	}

	got, err := c.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got == nil || got.ID != snapshot.ID || len(got.Readings) != 2 {
		t.Fatalf("unexpected cached snapshot: %+v", got)
	}

	v, ok, err := c.LatestValue(ctx, 15)
	if err != nil || !ok || v != 0.4189 {
		t.Fatalf("unexpected value: %v %v %v", v, ok, err)
	}

	if ttl := mr.TTL(CapteurKey(6)); ttl != time.Hour {
		t.Fatalf("expected ttl of 1h, got %s", ttl)
	}
}

func TestLatestOnEmptyCache(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	got, err := c.Latest(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected nil snapshot, got %+v (%v)", got, err)
	}

	_, ok, err := c.LatestValue(ctx, 1)
	if err != nil || ok {
		t.Fatalf("expected missing value, got ok=%v err=%v", ok, err)
	}
}

func TestNewRedisCacheFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisCache(context.Background(), &config.CacheConfig{Addr: addr}); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
