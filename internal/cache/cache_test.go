package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type report struct {
	Revenue float64  `json:"revenue"`
	ROAS    *float64 `json:"roas"`
}

func TestMemoryGetSetExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(8)

	var got report
	if ok, err := c.Get(ctx, "k", &got); ok || err != nil {
		t.Fatalf("empty cache Get = %v, %v", ok, err)
	}

	if err := c.Set(ctx, "k", report{Revenue: 12.5}, 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := c.Get(ctx, "k", &got)
	if !ok || err != nil || got.Revenue != 12.5 || got.ROAS != nil {
		t.Fatalf("Get = %v, %v, %+v", ok, err, got)
	}

	time.Sleep(80 * time.Millisecond)
	if ok, _ := c.Get(ctx, "k", &got); ok {
		t.Fatal("entry should expire at ttl")
	}
}

func TestMemoryHitDoesNotExtendTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(8)
	_ = c.Set(ctx, "k", report{Revenue: 1}, 80*time.Millisecond)

	var got report
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		_, _ = c.Get(ctx, "k", &got)
	}
	if ok, _ := c.Get(ctx, "k", &got); ok {
		t.Fatal("reads must not keep a report alive past its ttl")
	}
}

func TestMemoryCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(3)
	for i := 0; i < 5; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), report{Revenue: float64(i)}, time.Minute)
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	var got report
	if ok, _ := c.Get(ctx, "k0", &got); ok {
		t.Fatal("k0 should be evicted")
	}
	if ok, _ := c.Get(ctx, "k4", &got); !ok || got.Revenue != 4 {
		t.Fatalf("k4 = %v %+v", ok, got)
	}
}

func TestMemorySetSweepsExpired(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	_ = c.Set(ctx, "old", report{}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_ = c.Set(ctx, "new", report{}, time.Minute)
	if c.Len() != 1 {
		t.Fatalf("len = %d, expired key not swept", c.Len())
	}
}

func TestMemoryZeroTTLSkipsStore(t *testing.T) {
	c := NewMemory(8)
	_ = c.Set(context.Background(), "k", report{Revenue: 1}, 0)
	var got report
	if ok, _ := c.Get(context.Background(), "k", &got); ok {
		t.Fatal("zero ttl should not store")
	}
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	_ = c.Set(context.Background(), "k", 1, time.Hour)
	var v int
	if ok, err := c.Get(context.Background(), "k", &v); ok || err != nil {
		t.Fatalf("Nop Get = %v, %v", ok, err)
	}
}
