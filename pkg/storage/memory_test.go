package storage

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func sampleSnapshot(link string, at time.Time) DecisionSnapshot {
	return DecisionSnapshot{
		Link:          link,
		Target:        "s1-eth3",
		CycleID:       "c0ffee",
		GeneratedAt:   at,
		Model:         "spectral",
		Tier:          "shape",
		ProtectedBps:  300e6,
		ContendingBps: 250e6,
		TotalBps:      550e6,
		HighBps:       360e6,
		MidBps:        200e6,
		Sources: []SourceEstimate{
			{Source: "h1", Role: "protected", Bps: 300e6, Ready: true},
			{Source: "h2", Role: "contending", Bps: 250e6, Ready: true},
		},
		Ceilings: []Ceiling{
			{ClassID: 10, RateBps: 200_000_000, CeilBps: 400_000_000},
			{ClassID: 20, RateBps: 100_000_000, CeilBps: 200_000_000},
		},
		Changed: 1,
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.Len() != 0 {
		t.Errorf("New store should be empty, got %d snapshots", store.Len())
	}
}

func TestMemoryStore_Put_Get(t *testing.T) {
	tests := []struct {
		name     string
		snapshot DecisionSnapshot
		wantErr  bool
	}{
		{name: "valid snapshot", snapshot: sampleSnapshot("uplink", time.Now())},
		{name: "dotted name", snapshot: sampleSnapshot("s1.uplink", time.Now())},
		{name: "empty link", snapshot: sampleSnapshot("", time.Now()), wantErr: true},
		{name: "slash in link", snapshot: sampleSnapshot("a/b", time.Now()), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()

			err := store.Put(ctx, tt.snapshot)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			got, found, err := store.GetLatest(ctx, tt.snapshot.Link)
			if err != nil {
				t.Fatalf("GetLatest() error = %v", err)
			}
			if !found {
				t.Fatal("GetLatest() found = false, want true")
			}
			if !reflect.DeepEqual(got, tt.snapshot) {
				t.Errorf("GetLatest() = %+v, want %+v", got, tt.snapshot)
			}
		})
	}
}

func TestMemoryStore_GetLatest_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, found, err := store.GetLatest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if found {
		t.Error("GetLatest() found = true for missing link")
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, sampleSnapshot("uplink", time.Now())); err == nil {
		t.Error("Put() with cancelled context should fail")
	}
	if _, _, err := store.GetLatest(ctx, "uplink"); err == nil {
		t.Error("GetLatest() with cancelled context should fail")
	}
}

func TestMemoryStore_Put_Update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := sampleSnapshot("uplink", time.Now())
	second := sampleSnapshot("uplink", time.Now().Add(time.Second))
	second.Tier = "relax"
	second.CycleID = "beef"

	if err := store.Put(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, _, _ := store.GetLatest(ctx, "uplink")
	if got.Tier != "relax" || got.CycleID != "beef" {
		t.Errorf("GetLatest() = %+v, want the second snapshot", got)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_LinksAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, l := range []string{"core", "access", "edge"} {
		if err := store.Put(ctx, sampleSnapshot(l, time.Now())); err != nil {
			t.Fatal(err)
		}
	}

	if got, want := store.Links(), []string{"access", "core", "edge"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Links() = %v, want %v", got, want)
	}
	if !store.Delete("core") {
		t.Error("Delete(core) = false, want true")
	}
	if store.Delete("core") {
		t.Error("second Delete(core) = true, want false")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				link := fmt.Sprintf("link-%d", i%4)
				if err := store.Put(ctx, sampleSnapshot(link, time.Now())); err != nil {
					t.Errorf("Put() error = %v", err)
					return
				}
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, _, err := store.GetLatest(ctx, fmt.Sprintf("link-%d", i%4)); err != nil {
					t.Errorf("GetLatest() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 4 {
		t.Errorf("Len() = %d, want 4", store.Len())
	}
}

func TestMemoryStoreWithTTL_Expiration(t *testing.T) {
	store := NewMemoryStoreWithTTL(time.Hour, time.Hour)
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	if err := store.Put(ctx, sampleSnapshot("stale", now.Add(-2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, sampleSnapshot("fresh", now)); err != nil {
		t.Fatal(err)
	}

	store.cleanup(now)

	if _, found, _ := store.GetLatest(ctx, "stale"); found {
		t.Error("stale snapshot survived cleanup")
	}
	if _, found, _ := store.GetLatest(ctx, "fresh"); !found {
		t.Error("fresh snapshot removed by cleanup")
	}
}

func TestMemoryStoreWithTTL_BackgroundCleanup(t *testing.T) {
	store := NewMemoryStoreWithTTL(50*time.Millisecond, 10*time.Millisecond)
	defer store.Stop()

	if err := store.Put(context.Background(), sampleSnapshot("uplink", time.Now())); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot not removed by background cleanup")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMemoryStoreWithTTL_Stop(t *testing.T) {
	store := NewMemoryStoreWithTTL(time.Minute, 10*time.Millisecond)
	store.Stop()
	store.Stop()
}

func TestMemoryStore_StopWithoutTTL(t *testing.T) {
	NewMemoryStore().Stop()
}

func TestMemoryStoreWithTTL_PanicOnInvalidTTL(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero TTL")
		}
	}()
	NewMemoryStoreWithTTL(0, time.Minute)
}

func TestValidateLinkName(t *testing.T) {
	for _, ok := range []string{"uplink", "s1-eth3", "core_1", "dc1.wan"} {
		if err := ValidateLinkName(ok); err != nil {
			t.Errorf("ValidateLinkName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a b", "x/y", "key:*"} {
		if err := ValidateLinkName(bad); err == nil {
			t.Errorf("ValidateLinkName(%q) expected error", bad)
		}
	}
}
