package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/HatiCode/linkguard/cmd/linkguard/config"
	"github.com/HatiCode/linkguard/pkg/adapters"
	"github.com/HatiCode/linkguard/pkg/enforce"
	"github.com/HatiCode/linkguard/pkg/policy"
	"github.com/HatiCode/linkguard/pkg/telemetry"
)

const mbit = 1_000_000

// collector is one telemetry loop: a per-source Sampler or a per-device Poller.
type collector interface {
	Run(ctx context.Context) error
}

// buildLinks creates the controller view of every topology link, with one
// sample buffer per source sized to the forecast window.
func buildLinks(cfg *config.Config, topo *config.Topology) []*Link {
	links := make([]*Link, 0, len(topo.Links))
	for _, tl := range topo.Links {
		l := &Link{
			Name:   tl.Name,
			Target: tl.Interface,
			Thresholds: policy.Thresholds{
				LinkCapacityBps:        tl.CapacityMbps * mbit,
				HighFraction:           cfg.HighFraction,
				MidFraction:            cfg.MidFraction,
				RequireProtectedDemand: cfg.RequireProtectedDemand,
			},
			Ceilings: policy.Ceilings{
				ShapedBps:  tl.ShapedCeilingMbps * mbit,
				RelaxedBps: tl.RelaxedCeilingMbps * mbit,
			},
		}
		for _, ts := range tl.Sources {
			l.Sources = append(l.Sources, &Source{
				ID:      telemetry.SourceID(ts.ID),
				Role:    ts.Role,
				ClassID: ts.Class,
				Buffer:  telemetry.NewSampleBuffer(cfg.RequiredHistory()),
			})
		}
		links = append(links, l)
	}
	return links
}

// hierarchy converts a topology link into the shaping classes installed on
// its target.
func hierarchy(tl config.Link) enforce.Hierarchy {
	h := enforce.Hierarchy{
		RootRateBps:  uint64(tl.CapacityMbps * mbit),
		DefaultClass: tl.DefaultClass,
	}
	for _, c := range tl.Classes {
		h.Classes = append(h.Classes, enforce.ClassSpec{
			ID:      c.ID,
			RateBps: uint64(c.RateMbps * mbit),
			CeilBps: uint64(c.CeilMbps * mbit),
			Match:   slices.Clone(c.Match),
		})
	}
	return h
}

// buildCollectors creates the telemetry loops feeding the link buffers.
// sysfs telemetry gets one Sampler per source; ofctl and prometheus get one
// Poller per device.
func buildCollectors(cfg *config.Config, topo *config.Topology, links []*Link, client *http.Client, logger *slog.Logger, observer telemetry.Observer) ([]collector, error) {
	buffers := make(map[telemetry.SourceID]*telemetry.SampleBuffer)
	for _, l := range links {
		for _, s := range l.Sources {
			buffers[s.ID] = s.Buffer
		}
	}

	if cfg.Telemetry == "sysfs" {
		var out []collector
		for _, tl := range topo.Links {
			for _, ts := range tl.Sources {
				id := telemetry.SourceID(ts.ID)
				counter := telemetry.NewSysfsCounter(cfg.SysfsRoot, ts.Counter, cfg.SysfsStat)
				out = append(out, telemetry.NewSampler(id, counter, buffers[id], cfg.SamplingInterval, logger, observer))
			}
		}
		return out, nil
	}

	devices := make(map[string][]config.Source)
	var order []string
	for _, tl := range topo.Links {
		for _, ts := range tl.Sources {
			if _, ok := devices[ts.Device]; !ok {
				order = append(order, ts.Device)
			}
			devices[ts.Device] = append(devices[ts.Device], ts)
		}
	}

	out := make([]collector, 0, len(order))
	for _, device := range order {
		sources := devices[device]

		bindings := make(map[uint32]telemetry.Binding, len(sources))
		ports := make(map[string]uint32, len(sources))
		bound := make([]telemetry.SourceID, 0, len(sources))
		for _, ts := range sources {
			if prev, dup := bindings[ts.Port]; dup {
				return nil, fmt.Errorf("device %s port %d is bound to both %s and %s", device, ts.Port, prev.ID, ts.ID)
			}
			id := telemetry.SourceID(ts.ID)
			bindings[ts.Port] = telemetry.Binding{ID: id, Buffer: buffers[id]}
			ports[ts.Counter] = ts.Port
			bound = append(bound, id)
		}

		acfg := adapters.Config{
			Device:     device,
			Timeout:    cfg.TelemetryTimeout,
			HTTPClient: client,
		}
		switch cfg.Telemetry {
		case "ofctl":
			acfg.URL = cfg.OFCtlURL
		case "prometheus":
			acfg.URL = cfg.PromURL
			acfg.Query = cfg.PromQuery
			acfg.Label = cfg.PromLabel
			acfg.Ports = ports
		}
		source, err := adapters.New(cfg.Telemetry, acfg)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", device, err)
		}

		resolve := func(st telemetry.PortStats) (telemetry.Binding, bool) {
			b, ok := bindings[st.Key.Port]
			return b, ok
		}
		out = append(out, telemetry.NewPoller(source, resolve, bound, telemetry.NewDeltaTracker(telemetry.RxBytes), cfg.SamplingInterval, logger, observer))
	}
	return out, nil
}
