package policy

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func link400() Thresholds {
	return Thresholds{LinkCapacityBps: 400e6, HighFraction: 0.9, MidFraction: 0.5}
}

func TestDecide(t *testing.T) {
	strict := link400()
	strict.RequireProtectedDemand = true

	tests := []struct {
		name   string
		demand Demand
		th     Thresholds
		want   Tier
	}{
		{
			name:   "contenders above mid shape",
			demand: Demand{ProtectedBps: 300e6, ContendingBps: 250e6},
			th:     link400(),
			want:   TierShape,
		},
		{
			name:   "headroom relaxes",
			demand: Demand{ProtectedBps: 50e6, ContendingBps: 30e6},
			th:     link400(),
			want:   TierRelax,
		},
		{
			name:   "busy but contenders under mid holds",
			demand: Demand{ProtectedBps: 200e6, ContendingBps: 180e6},
			th:     link400(),
			want:   TierHold,
		},
		{
			name:   "contenders exactly at mid do not shape",
			demand: Demand{ProtectedBps: 0, ContendingBps: 200e6},
			th:     link400(),
			want:   TierRelax,
		},
		{
			name:   "total exactly at high holds",
			demand: Demand{ProtectedBps: 170e6, ContendingBps: 190e6},
			th:     link400(),
			want:   TierHold,
		},
		{
			name:   "strict variant shapes when both exceed mid",
			demand: Demand{ProtectedBps: 300e6, ContendingBps: 250e6},
			th:     strict,
			want:   TierShape,
		},
		{
			name:   "strict variant without protected demand falls through",
			demand: Demand{ProtectedBps: 10e6, ContendingBps: 380e6},
			th:     strict,
			want:   TierHold,
		},
		{
			name:   "strict variant relaxes when under high",
			demand: Demand{ProtectedBps: 10e6, ContendingBps: 250e6},
			th:     strict,
			want:   TierRelax,
		},
		{
			name:   "stricter mid fraction",
			demand: Demand{ProtectedBps: 100e6, ContendingBps: 170e6},
			th:     Thresholds{LinkCapacityBps: 400e6, HighFraction: 0.9, MidFraction: 0.4},
			want:   TierShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.demand, tt.th); got != tt.want {
				t.Fatalf("Decide(%+v) = %v, want %v", tt.demand, got, tt.want)
			}
		})
	}
}

func TestThresholds(t *testing.T) {
	th := link400()
	if th.High() != 360e6 {
		t.Errorf("High() = %v, want 360e6", th.High())
	}
	if th.Mid() != 200e6 {
		t.Errorf("Mid() = %v, want 200e6", th.Mid())
	}
	if err := th.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	bad := []Thresholds{
		{LinkCapacityBps: 0, HighFraction: 0.9, MidFraction: 0.5},
		{LinkCapacityBps: 1, HighFraction: 1.2, MidFraction: 0.5},
		{LinkCapacityBps: 1, HighFraction: 0.4, MidFraction: 0.5},
		{LinkCapacityBps: 1, HighFraction: 0.9, MidFraction: 0},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", b)
		}
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]Estimate{
		{Source: "h1", Role: RoleProtected, Bps: 100, Ready: true},
		{Source: "h2", Role: RoleContending, Bps: 40, Ready: true},
		{Source: "h3", Role: RoleContending, Bps: 60, Ready: true},
		{Source: "h4", Role: RoleContending, Bps: 1e9, Ready: false},
		{Source: "h5", Role: RoleExcluded, Bps: 1e9, Ready: true},
		{Source: "h6", Role: RoleProtected, Bps: -50, Ready: true},
	})
	want := Demand{ProtectedBps: 100, ContendingBps: 100}
	if got != want {
		t.Fatalf("Aggregate = %+v, want %+v", got, want)
	}
	if got.TotalBps() != 200 {
		t.Fatalf("TotalBps = %v, want 200", got.TotalBps())
	}
}

func TestAggregate_EmptyGroups(t *testing.T) {
	if got := Aggregate(nil); got != (Demand{}) {
		t.Fatalf("Aggregate(nil) = %+v, want zero", got)
	}
}

func TestBitsPerSecond(t *testing.T) {
	tests := []struct {
		name     string
		segment  []float64
		interval time.Duration
		want     float64
	}{
		{name: "one second samples", segment: []float64{1000, 3000}, interval: time.Second, want: 16000},
		{name: "half second samples", segment: []float64{500, 500}, interval: 500 * time.Millisecond, want: 8000},
		{name: "empty", segment: nil, interval: time.Second, want: 0},
		{name: "zero interval", segment: []float64{1}, interval: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BitsPerSecond(tt.segment, tt.interval)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("BitsPerSecond = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	classes := []ClassRole{
		{ClassID: 30, Role: RoleContending},
		{ClassID: 10, Role: RoleProtected},
		{ClassID: 20, Role: RoleContending},
		{ClassID: 20, Role: RoleProtected},
		{ClassID: 30, Role: RoleContending},
		{ClassID: 40, Role: RoleExcluded},
	}
	ceilings := Ceilings{ShapedBps: 200.4e6, RelaxedBps: 400e6}

	tests := []struct {
		name string
		tier Tier
		want []Assignment
	}{
		{
			name: "shape",
			tier: TierShape,
			want: []Assignment{
				{ClassID: 10, Role: RoleProtected, CeilingBps: 400_000_000},
				{ClassID: 20, Role: RoleProtected, CeilingBps: 400_000_000},
				{ClassID: 30, Role: RoleContending, CeilingBps: 200_000_000},
			},
		},
		{
			name: "relax",
			tier: TierRelax,
			want: []Assignment{
				{ClassID: 10, Role: RoleProtected, CeilingBps: 400_000_000},
				{ClassID: 20, Role: RoleProtected, CeilingBps: 400_000_000},
				{ClassID: 30, Role: RoleContending, CeilingBps: 400_000_000},
			},
		},
		{
			name: "hold",
			tier: TierHold,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.tier, classes, ceilings)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Plan(%v) = %+v, want %+v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestPlan_MinimumCeiling(t *testing.T) {
	got := Plan(TierShape, []ClassRole{{ClassID: 2, Role: RoleContending}}, Ceilings{ShapedBps: 10, RelaxedBps: 1e9})
	if len(got) != 1 || got[0].CeilingBps != 1_000_000 {
		t.Fatalf("Plan = %+v, want one 1 Mbit ceiling", got)
	}
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"":           RoleContending,
		"contending": RoleContending,
		"protected":  RoleProtected,
		"excluded":   RoleExcluded,
	} {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Errorf("ParseRole(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseRole("vip"); err == nil {
		t.Error("ParseRole(vip) expected error")
	}
}

func TestTierString(t *testing.T) {
	if TierShape.String() != "shape" || TierRelax.String() != "relax" || TierHold.String() != "hold" {
		t.Fatal("unexpected tier names")
	}
}
