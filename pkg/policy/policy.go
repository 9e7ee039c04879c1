// Package policy turns forecasted per-source throughput into a shaping tier
// for a bottleneck link using two capacity thresholds.
package policy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Tier is the outcome of one decision cycle.
type Tier int

const (
	// TierHold leaves every ceiling as it is.
	TierHold Tier = iota
	// TierRelax lifts shaping on every class.
	TierRelax
	// TierShape throttles contending classes and relaxes protected ones.
	TierShape
)

func (t Tier) String() string {
	switch t {
	case TierHold:
		return "hold"
	case TierRelax:
		return "relax"
	case TierShape:
		return "shape"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Role places a source in one of the two logical groups, or outside both.
type Role string

const (
	RoleProtected  Role = "protected"
	RoleContending Role = "contending"
	RoleExcluded   Role = "excluded"
)

// ParseRole accepts the role names used in topology files. An empty string
// means contending.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleContending:
		return RoleContending, nil
	case RoleProtected:
		return RoleProtected, nil
	case RoleExcluded:
		return RoleExcluded, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Thresholds derives the decision thresholds from nominal link capacity.
type Thresholds struct {
	// LinkCapacityBps is the nominal capacity C of the link. Must be > 0.
	LinkCapacityBps float64

	// HighFraction of C below which total demand leaves headroom (e.g. 0.9).
	HighFraction float64

	// MidFraction of C above which contending demand is severe (e.g. 0.5).
	MidFraction float64

	// RequireProtectedDemand additionally requires protected demand above mid
	// before shaping. Without protected traffic to defend, contenders are
	// then handled by the relax/hold checks.
	RequireProtectedDemand bool
}

// High returns HighFraction*C in bits per second.
func (t Thresholds) High() float64 { return t.HighFraction * t.LinkCapacityBps }

// Mid returns MidFraction*C in bits per second.
func (t Thresholds) Mid() float64 { return t.MidFraction * t.LinkCapacityBps }

// Validate checks that the thresholds are usable.
func (t Thresholds) Validate() error {
	if t.LinkCapacityBps <= 0 {
		return fmt.Errorf("link capacity must be > 0, got %v", t.LinkCapacityBps)
	}
	if t.HighFraction <= 0 || t.HighFraction > 1 {
		return fmt.Errorf("high fraction must be in (0, 1], got %v", t.HighFraction)
	}
	if t.MidFraction <= 0 || t.MidFraction > t.HighFraction {
		return fmt.Errorf("mid fraction must be in (0, high], got %v", t.MidFraction)
	}
	return nil
}

// Demand is the forecasted throughput of both groups on one link.
type Demand struct {
	ProtectedBps  float64
	ContendingBps float64
}

// TotalBps is ProtectedBps + ContendingBps.
func (d Demand) TotalBps() float64 { return d.ProtectedBps + d.ContendingBps }

// Decide selects the tier for demand d:
//   - contending above mid: shape (and, with RequireProtectedDemand, only if
//     protected is above mid as well)
//   - otherwise total below high: relax
//   - otherwise: hold
func Decide(d Demand, t Thresholds) Tier {
	mid := t.Mid()
	if d.ContendingBps > mid && (!t.RequireProtectedDemand || d.ProtectedBps > mid) {
		return TierShape
	}
	if d.TotalBps() < t.High() {
		return TierRelax
	}
	return TierHold
}

// Estimate is the forecasted throughput of one source for the coming segment.
type Estimate struct {
	Source string
	Role   Role

	// Bps is the mean predicted throughput. Meaningless unless Ready.
	Bps float64

	// Ready is false when the source lacked history for a forecast.
	Ready bool
}

// Aggregate sums ready estimates per group. Excluded and not-ready sources
// contribute nothing; negative predictions count as zero.
func Aggregate(estimates []Estimate) Demand {
	var d Demand
	for _, e := range estimates {
		if !e.Ready {
			continue
		}
		bps := math.Max(e.Bps, 0)
		switch e.Role {
		case RoleProtected:
			d.ProtectedBps += bps
		case RoleContending:
			d.ContendingBps += bps
		}
	}
	return d
}

// BitsPerSecond converts a segment of per-interval byte deltas into its mean
// throughput in bits per second. An empty segment yields 0.
func BitsPerSecond(segment []float64, interval time.Duration) float64 {
	if len(segment) == 0 || interval <= 0 {
		return 0
	}
	return stat.Mean(segment, nil) * 8 / interval.Seconds()
}

// ClassRole binds a shaping class to the role of one source mapped to it.
type ClassRole struct {
	ClassID uint16
	Role    Role
}

// Ceilings are the per-class throughput ceilings used by the shaping tiers.
type Ceilings struct {
	// ShapedBps is applied to contending classes under TierShape.
	ShapedBps float64
	// RelaxedBps is applied to every class under TierRelax and to protected
	// classes under TierShape.
	RelaxedBps float64
}

// Assignment is a ceiling to apply to one class.
type Assignment struct {
	ClassID    uint16
	Role       Role
	CeilingBps uint64
}

// Plan maps a tier onto concrete class ceilings. A class carrying a protected
// source counts as protected; classes with only excluded sources are never
// touched. Ceilings are rounded to whole Mbit/s, at least 1 Mbit/s. The
// result is ordered by class ID. TierHold yields no assignments.
func Plan(tier Tier, classes []ClassRole, c Ceilings) []Assignment {
	if tier == TierHold {
		return nil
	}

	roles := make(map[uint16]Role)
	for _, cr := range classes {
		switch cr.Role {
		case RoleProtected:
			roles[cr.ClassID] = RoleProtected
		case RoleContending:
			if roles[cr.ClassID] != RoleProtected {
				roles[cr.ClassID] = RoleContending
			}
		}
	}

	out := make([]Assignment, 0, len(roles))
	for id, role := range roles {
		ceil := c.RelaxedBps
		if tier == TierShape && role == RoleContending {
			ceil = c.ShapedBps
		}
		out = append(out, Assignment{ClassID: id, Role: role, CeilingBps: quantize(ceil)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out
}

const mbit = 1_000_000

func quantize(bps float64) uint64 {
	m := math.Round(bps / mbit)
	if m < 1 {
		m = 1
	}
	return uint64(m) * mbit
}
