// Package storage keeps the latest decision snapshot per monitored link.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SourceEstimate is the forecasted throughput of one source in a cycle.
type SourceEstimate struct {
	Source string  `json:"source"`
	Role   string  `json:"role"`
	Bps    float64 `json:"bps"`
	Ready  bool    `json:"ready"`
}

// Ceiling is the rate and ceiling in force on a class after a cycle.
type Ceiling struct {
	ClassID uint16 `json:"classId"`
	RateBps uint64 `json:"rateBps"`
	CeilBps uint64 `json:"ceilBps"`
}

// DecisionSnapshot records the outcome of one decision cycle on a link.
type DecisionSnapshot struct {
	Link        string    `json:"link"`
	Target      string    `json:"target"`
	CycleID     string    `json:"cycleId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Model       string    `json:"model"`
	Tier        string    `json:"tier"`

	ProtectedBps  float64 `json:"protectedBps"`
	ContendingBps float64 `json:"contendingBps"`
	TotalBps      float64 `json:"totalBps"`
	HighBps       float64 `json:"highBps"`
	MidBps        float64 `json:"midBps"`

	Sources  []SourceEstimate `json:"sources"`
	Ceilings []Ceiling        `json:"ceilings"`

	// Changed and Failed count enforcement calls issued in this cycle.
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

type Store interface {
	Put(ctx context.Context, snapshot DecisionSnapshot) error
	GetLatest(ctx context.Context, link string) (DecisionSnapshot, bool, error)
}

// ValidateLinkName accepts alphanumerics, hyphens, underscores and dots.
func ValidateLinkName(link string) error {
	if link == "" {
		return errors.New("link name required")
	}
	for _, c := range link {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid link name %q: only alphanumeric, hyphens, underscores and dots allowed", link)
		}
	}
	return nil
}
