package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/linkguard/pkg/policy"
	"github.com/HatiCode/linkguard/pkg/storage"
)

// Topology lists the bottleneck links the controller defends.
//
// Example:
//
//	links:
//	  - name: uplink
//	    capacityMbps: 400
//	    interface: s1-eth3
//	    device: "1"
//	    defaultClass: 30
//	    classes:
//	      - {id: 10, rateMbps: 200, match: [10.0.0.1]}
//	      - {id: 20, rateMbps: 100, match: [10.0.0.2]}
//	      - {id: 30, rateMbps: 50}
//	    sources:
//	      - {id: h1, counter: s1-eth1, port: 1, role: protected, class: 10}
//	      - {id: h2, counter: s1-eth2, port: 2, class: 20}
type Topology struct {
	Links []Link `yaml:"links"`
}

// Link is one shaped bottleneck.
type Link struct {
	Name         string  `yaml:"name"`
	CapacityMbps float64 `yaml:"capacityMbps"`
	// Interface is the enforcement target, e.g. the egress interface.
	Interface string `yaml:"interface"`
	// Device is the datapath ID (ofctl) or device name (prometheus) the
	// sources are read from unless a source overrides it.
	Device       string `yaml:"device"`
	DefaultClass uint16 `yaml:"defaultClass"`
	// ShapedCeilingMbps defaults to (1 - mid fraction) * capacity.
	ShapedCeilingMbps float64 `yaml:"shapedCeilingMbps"`
	// RelaxedCeilingMbps defaults to capacity.
	RelaxedCeilingMbps float64  `yaml:"relaxedCeilingMbps"`
	Classes            []Class  `yaml:"classes"`
	Sources            []Source `yaml:"sources"`
}

// Class is one HTB leaf class.
type Class struct {
	ID       uint16  `yaml:"id"`
	RateMbps float64 `yaml:"rateMbps"`
	// CeilMbps defaults to the link capacity.
	CeilMbps float64  `yaml:"ceilMbps"`
	Match    []string `yaml:"match"`
}

// Source is one monitored traffic source.
type Source struct {
	ID string `yaml:"id"`
	// Counter is the interface name whose counter is sampled.
	Counter string `yaml:"counter"`
	// Port is the switch port number (ofctl, prometheus).
	Port uint32 `yaml:"port"`
	// Device overrides the link device for this source.
	Device string      `yaml:"device"`
	Role   policy.Role `yaml:"role"`
	// Class is the shaping class carrying this source's traffic. Zero means
	// the link's default class.
	Class uint16 `yaml:"class"`
}

// LoadTopology reads and parses a topology file. The result still needs
// Normalize.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes YAML, rejecting unknown fields.
func ParseTopology(data []byte) (*Topology, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Topology
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	return &t, nil
}

// Normalize applies role overrides and defaults from cfg, then validates the
// topology for cfg's telemetry mode.
func (t *Topology) Normalize(cfg *Config) error {
	if len(t.Links) == 0 {
		return errors.New("topology: no links defined")
	}

	known := make(map[string]bool)
	for _, l := range t.Links {
		for _, s := range l.Sources {
			known[s.ID] = true
		}
	}
	for _, id := range append(slices.Clone(cfg.Protected), cfg.Excluded...) {
		if !known[id] {
			return fmt.Errorf("topology: role override for unknown source %q", id)
		}
	}
	for _, id := range cfg.Protected {
		if slices.Contains(cfg.Excluded, id) {
			return fmt.Errorf("topology: source %q is both protected and excluded", id)
		}
	}

	linkNames := make(map[string]bool)
	sourceIDs := make(map[string]bool)
	for i := range t.Links {
		l := &t.Links[i]
		if err := l.normalize(cfg); err != nil {
			return fmt.Errorf("link[%d] %q: %w", i, l.Name, err)
		}
		if linkNames[l.Name] {
			return fmt.Errorf("link %q: duplicate name", l.Name)
		}
		linkNames[l.Name] = true
		for _, s := range l.Sources {
			if sourceIDs[s.ID] {
				return fmt.Errorf("source %q: duplicate id", s.ID)
			}
			sourceIDs[s.ID] = true
		}
	}
	return nil
}

func (l *Link) normalize(cfg *Config) error {
	if err := storage.ValidateLinkName(l.Name); err != nil {
		return err
	}
	if l.CapacityMbps <= 0 {
		return errors.New("capacityMbps must be > 0")
	}
	if l.Interface == "" {
		return errors.New("interface is required")
	}
	if l.ShapedCeilingMbps == 0 {
		l.ShapedCeilingMbps = (1 - cfg.MidFraction) * l.CapacityMbps
	}
	if l.RelaxedCeilingMbps == 0 {
		l.RelaxedCeilingMbps = l.CapacityMbps
	}
	if l.ShapedCeilingMbps < 0 || l.ShapedCeilingMbps > l.RelaxedCeilingMbps {
		return fmt.Errorf("need 0 < shapedCeilingMbps <= relaxedCeilingMbps, got %v and %v", l.ShapedCeilingMbps, l.RelaxedCeilingMbps)
	}

	classes := make(map[uint16]bool, len(l.Classes))
	for i := range l.Classes {
		c := &l.Classes[i]
		if c.CeilMbps == 0 {
			c.CeilMbps = l.CapacityMbps
		}
		if c.RateMbps <= 0 {
			return fmt.Errorf("class %d: rateMbps must be > 0", c.ID)
		}
		classes[c.ID] = true
	}
	if len(l.Classes) > 0 && l.DefaultClass == 0 {
		return errors.New("defaultClass is required when classes are defined")
	}

	if len(l.Sources) == 0 {
		return errors.New("no sources defined")
	}
	for i := range l.Sources {
		s := &l.Sources[i]
		if s.ID == "" {
			return fmt.Errorf("source[%d]: id is required", i)
		}

		role, err := policy.ParseRole(string(s.Role))
		if err != nil {
			return fmt.Errorf("source %q: %w", s.ID, err)
		}
		switch {
		case slices.Contains(cfg.Excluded, s.ID):
			role = policy.RoleExcluded
		case slices.Contains(cfg.Protected, s.ID):
			role = policy.RoleProtected
		}
		s.Role = role

		if s.Class == 0 {
			s.Class = l.DefaultClass
		}
		if s.Class != 0 && !classes[s.Class] {
			return fmt.Errorf("source %q: class %d is not defined", s.ID, s.Class)
		}
		if s.Device == "" {
			s.Device = l.Device
		}

		switch cfg.Telemetry {
		case "sysfs":
			if s.Counter == "" {
				return fmt.Errorf("source %q: counter is required for sysfs telemetry", s.ID)
			}
		case "ofctl":
			if s.Device == "" || s.Port == 0 {
				return fmt.Errorf("source %q: device and port are required for ofctl telemetry", s.ID)
			}
		case "prometheus":
			if s.Counter == "" || s.Port == 0 {
				return fmt.Errorf("source %q: counter and port are required for prometheus telemetry", s.ID)
			}
		}
	}
	return nil
}
