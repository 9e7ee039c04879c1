// Package enforce applies shaping decisions to an enforcement target through
// a pluggable Sink, skipping calls that would not change anything.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
)

// ErrEnforcementFailure wraps any error returned by a Sink. The previously
// applied value is kept so the next cycle retries.
var ErrEnforcementFailure = errors.New("enforcement failure")

// ClassSpec is one shaping class under the root class of a target.
type ClassSpec struct {
	// ID is the minor class number, unique per target and never 0 or 1.
	ID uint16 `json:"id"`

	// RateBps is the guaranteed rate.
	RateBps uint64 `json:"rateBps"`

	// CeilBps is the maximum rate the class may borrow up to.
	CeilBps uint64 `json:"ceilBps"`

	// Match lists destination addresses steered into this class.
	Match []string `json:"match,omitempty"`
}

// Hierarchy is the class tree installed on a target.
type Hierarchy struct {
	// RootRateBps is the rate and ceiling of the root class.
	RootRateBps uint64

	// DefaultClass receives unmatched traffic.
	DefaultClass uint16

	Classes []ClassSpec
}

// Validate checks class IDs, rates and match addresses.
func (h Hierarchy) Validate() error {
	if h.RootRateBps == 0 {
		return errors.New("root rate must be > 0")
	}
	seen := make(map[uint16]bool, len(h.Classes))
	for _, c := range h.Classes {
		if c.ID <= 1 {
			return fmt.Errorf("class %d: id must be > 1", c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("class %d: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if c.RateBps == 0 || c.CeilBps < c.RateBps {
			return fmt.Errorf("class %d: need 0 < rate <= ceil, got rate=%d ceil=%d", c.ID, c.RateBps, c.CeilBps)
		}
		for _, m := range c.Match {
			if net.ParseIP(m) == nil {
				if _, _, err := net.ParseCIDR(m); err != nil {
					return fmt.Errorf("class %d: invalid match %q", c.ID, m)
				}
			}
		}
	}
	if h.DefaultClass != 0 && !seen[h.DefaultClass] {
		return fmt.Errorf("default class %d is not defined", h.DefaultClass)
	}
	return nil
}

// Sink executes enforcement commands against a target such as a network
// interface.
type Sink interface {
	// Install replaces whatever shaping exists on target with h.
	Install(ctx context.Context, target string, h Hierarchy) error

	// ChangeClass sets the rate and ceiling of an installed class.
	ChangeClass(ctx context.Context, target string, class ClassSpec) error

	Name() string
}

// Key identifies one class on one target.
type Key struct {
	Target  string
	ClassID uint16
}

// State remembers the last rate and ceiling applied per (target, class).
// Safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	applied map[Key]ClassSpec
}

func NewState() *State {
	return &State{applied: make(map[Key]ClassSpec)}
}

// Get returns the last applied spec for the class.
func (s *State) Get(target string, classID uint16) (ClassSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.applied[Key{Target: target, ClassID: classID}]
	return c, ok
}

// Set records spec as applied on target.
func (s *State) Set(target string, spec ClassSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[Key{Target: target, ClassID: spec.ID}] = spec
}

// Applied returns the applied specs for target ordered by class ID.
func (s *State) Applied(target string) []ClassSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ClassSpec
	for k, c := range s.applied {
		if k.Target == target {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
