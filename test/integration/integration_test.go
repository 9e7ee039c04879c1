//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/linkguard/internal/clock"
	"github.com/HatiCode/linkguard/pkg/enforce"
	"github.com/HatiCode/linkguard/pkg/forecast"
	"github.com/HatiCode/linkguard/pkg/policy"
	"github.com/HatiCode/linkguard/pkg/storage"
	"github.com/HatiCode/linkguard/pkg/telemetry"
)

const (
	window   = 8
	interval = time.Second
)

type commandLog struct {
	lines []string
}

func (c *commandLog) Run(_ context.Context, name string, args ...string) error {
	c.lines = append(c.lines, name+" "+strings.Join(args, " "))
	return nil
}

func (c *commandLog) count(substr string) int {
	n := 0
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// counterDir lays out sysfs-style rx_bytes files under a temp root.
type counterDir struct {
	t     *testing.T
	root  string
	bytes map[string]uint64
}

func newCounterDir(t *testing.T, ifaces ...string) *counterDir {
	d := &counterDir{t: t, root: t.TempDir(), bytes: make(map[string]uint64)}
	for _, iface := range ifaces {
		if err := os.MkdirAll(filepath.Join(d.root, iface, "statistics"), 0o755); err != nil {
			t.Fatal(err)
		}
		d.add(iface, 0)
	}
	return d
}

func (d *counterDir) add(iface string, n uint64) {
	d.bytes[iface] += n
	path := filepath.Join(d.root, iface, "statistics", "rx_bytes")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(d.bytes[iface], 10)+"\n"), 0o644); err != nil {
		d.t.Fatal(err)
	}
}

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

// TestShapingPipeline drives counters through sampling, forecasting, the
// tier policy and tc enforcement, and publishes the decision to redis.
func TestShapingPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	store, err := storage.NewRedisStore(startRedis(t), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	counters := newCounterDir(t, "s1-eth1", "s1-eth2")
	type source struct {
		id      string
		iface   string
		role    policy.Role
		class   uint16
		perTick uint64
		sampler *telemetry.Sampler
	}
	sources := []*source{
		// 40 Mbit/s protected, 240 Mbit/s contending on a 400 Mbit/s link.
		{id: "h1", iface: "s1-eth1", role: policy.RoleProtected, class: 10, perTick: 5_000_000},
		{id: "h2", iface: "s1-eth2", role: policy.RoleContending, class: 20, perTick: 30_000_000},
	}
	for _, s := range sources {
		s.sampler = telemetry.NewSampler(
			telemetry.SourceID(s.id),
			telemetry.NewSysfsCounter(counters.root, s.iface, "rx_bytes"),
			telemetry.NewSampleBuffer(window),
			interval, logger, nil,
		)
	}

	// The first read only seeds each counter.
	for i := 0; i <= window; i++ {
		for _, s := range sources {
			if i > 0 {
				counters.add(s.iface, s.perTick)
			}
			s.sampler.SampleOnce(ctx)
		}
		clk.Advance(interval)
	}

	spectral, err := forecast.NewSpectral(forecast.SpectralConfig{
		RequiredHistory: window,
		DenoiseFraction: forecast.DefaultDenoiseFraction,
		Step:            interval,
		Clock:           clk,
	})
	if err != nil {
		t.Fatalf("NewSpectral() error = %v", err)
	}
	model := forecast.NewCached(spectral, forecast.NewCache(window*interval, clk))

	var estimates []policy.Estimate
	var classes []policy.ClassRole
	for _, s := range sources {
		f, err := model.Predict(telemetry.Float64s(s.sampler.Buffer().Snapshot()))
		if err != nil {
			t.Fatalf("Predict(%s) error = %v", s.id, err)
		}
		estimates = append(estimates, policy.Estimate{
			Source: s.id,
			Role:   s.role,
			Bps:    policy.BitsPerSecond(f.Segment(0, 4), interval),
			Ready:  true,
		})
		classes = append(classes, policy.ClassRole{ClassID: s.class, Role: s.role})
	}

	thresholds := policy.Thresholds{LinkCapacityBps: 400e6, HighFraction: 0.9, MidFraction: 0.5}
	demand := policy.Aggregate(estimates)
	tier := policy.Decide(demand, thresholds)
	if tier != policy.TierShape {
		t.Fatalf("tier = %v, want shape (demand %+v)", tier, demand)
	}

	runner := &commandLog{}
	limiter := enforce.NewRateLimiter(enforce.NewTCSink(runner, "tc", logger), logger)
	err = limiter.Setup(ctx, "s1-eth3", enforce.Hierarchy{
		RootRateBps:  400e6,
		DefaultClass: 20,
		Classes: []enforce.ClassSpec{
			{ID: 10, RateBps: 200e6, CeilBps: 400e6, Match: []string{"10.0.0.1"}},
			{ID: 20, RateBps: 100e6, CeilBps: 400e6, Match: []string{"10.0.0.2"}},
		},
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	changed := 0
	for _, a := range policy.Plan(tier, classes, policy.Ceilings{ShapedBps: 200e6, RelaxedBps: 400e6}) {
		ok, err := limiter.UpdateCeiling(ctx, "s1-eth3", a.ClassID, a.CeilingBps)
		if err != nil {
			t.Fatalf("UpdateCeiling(%d) error = %v", a.ClassID, err)
		}
		if ok {
			changed++
		}
	}
	if changed != 1 || runner.count("class change") != 1 {
		t.Fatalf("changed = %d, commands:\n%s", changed, strings.Join(runner.lines, "\n"))
	}
	if runner.count("classid 1:14 htb rate 100000000bit ceil 200000000bit") != 1 {
		t.Errorf("contending class not shaped:\n%s", strings.Join(runner.lines, "\n"))
	}

	snap := storage.DecisionSnapshot{
		Link:          "uplink",
		Target:        "s1-eth3",
		CycleID:       "integration",
		GeneratedAt:   clk.Now(),
		Model:         model.Name(),
		Tier:          tier.String(),
		ProtectedBps:  demand.ProtectedBps,
		ContendingBps: demand.ContendingBps,
		TotalBps:      demand.TotalBps(),
		HighBps:       thresholds.High(),
		MidBps:        thresholds.Mid(),
		Changed:       changed,
	}
	for _, spec := range limiter.State().Applied("s1-eth3") {
		snap.Ceilings = append(snap.Ceilings, storage.Ceiling{ClassID: spec.ID, RateBps: spec.RateBps, CeilBps: spec.CeilBps})
	}
	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.GetLatest(ctx, "uplink")
	if err != nil || !found {
		t.Fatalf("GetLatest() = found %v, error %v", found, err)
	}
	if got.Tier != "shape" || got.Model != "spectral" || got.Changed != 1 {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if len(got.Ceilings) != 2 || got.Ceilings[1].CeilBps != 200e6 {
		t.Errorf("ceilings = %+v", got.Ceilings)
	}
}
