package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/linkguard/pkg/telemetry"
)

// OFCtlAdapter reads port statistics of one datapath from the Ryu
// ofctl_rest API.
//
// Collect calls GET /stats/port/<dpid>. Port names come from
// GET /stats/portdesc/<dpid>, which is fetched on first use and again
// whenever an unnamed port shows up. Both replies are keyed by the decimal
// datapath ID:
//
//	{"1": [{"port_no": 1, "rx_bytes": 1200, "tx_bytes": 800, ...}]}
//	{"1": [{"port_no": 1, "name": "s1-eth1", ...}]}
//
// Ports reported as "LOCAL" are skipped.
type OFCtlAdapter struct {
	// ServerURL is the base URL of ofctl_rest, e.g. http://localhost:8080
	ServerURL string
	// DPID is the datapath ID of the switch.
	DPID uint64
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	mu    sync.Mutex
	names map[uint32]string
}

func (a *OFCtlAdapter) Name() string { return "ofctl:" + a.device() }

func (a *OFCtlAdapter) device() string { return strconv.FormatUint(a.DPID, 10) }

// Collect implements telemetry.StatsSource.
func (a *OFCtlAdapter) Collect(ctx context.Context) ([]telemetry.PortStats, error) {
	body, err := get(ctx, a.HTTPClient, a.endpoint("stats", "port"))
	if err != nil {
		return nil, err
	}

	ports, err := a.entries(body)
	if err != nil {
		return nil, err
	}

	stats := make([]telemetry.PortStats, 0, len(ports))
	for _, p := range ports {
		no, ok := portNumber(p.Get("port_no"))
		if !ok {
			continue
		}
		for _, field := range []string{"rx_bytes", "tx_bytes"} {
			if !p.Get(field).Exists() {
				return nil, fmt.Errorf("%w: port %d of %s lacks %s", telemetry.ErrMalformedTelemetry, no, a.device(), field)
			}
		}
		stats = append(stats, telemetry.PortStats{
			Key:       telemetry.PortKey{Device: a.device(), Port: no},
			RxBytes:   p.Get("rx_bytes").Uint(),
			TxBytes:   p.Get("tx_bytes").Uint(),
			RxPackets: p.Get("rx_packets").Uint(),
			TxPackets: p.Get("tx_packets").Uint(),
		})
	}

	if err := a.name(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// name fills in port names, refreshing descriptions when one is missing.
func (a *OFCtlAdapter) name(ctx context.Context, stats []telemetry.PortStats) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	refresh := a.names == nil
	for _, s := range stats {
		if _, ok := a.names[s.Key.Port]; !ok {
			refresh = true
			break
		}
	}

	if refresh {
		names, err := a.describe(ctx)
		if err != nil {
			return err
		}
		a.names = names
	}

	for i := range stats {
		stats[i].Name = a.names[stats[i].Key.Port]
	}
	return nil
}

func (a *OFCtlAdapter) describe(ctx context.Context) (map[uint32]string, error) {
	body, err := get(ctx, a.HTTPClient, a.endpoint("stats", "portdesc"))
	if err != nil {
		return nil, err
	}
	ports, err := a.entries(body)
	if err != nil {
		return nil, err
	}

	names := make(map[uint32]string, len(ports))
	for _, p := range ports {
		if no, ok := portNumber(p.Get("port_no")); ok {
			names[no] = p.Get("name").String()
		}
	}
	return names, nil
}

// entries returns the per-port objects listed under the datapath ID.
func (a *OFCtlAdapter) entries(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON from ofctl", telemetry.ErrMalformedTelemetry)
	}
	list := gjson.GetBytes(body, a.device())
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no port list for datapath %s", telemetry.ErrMalformedTelemetry, a.device())
	}
	return list.Array(), nil
}

func (a *OFCtlAdapter) endpoint(parts ...string) string {
	u, err := url.JoinPath(a.ServerURL, append(parts, a.device())...)
	if err != nil {
		return a.ServerURL
	}
	return u
}

// portNumber accepts numeric port numbers. Reserved ports such as "LOCAL"
// are rejected.
func portNumber(v gjson.Result) (uint32, bool) {
	switch v.Type {
	case gjson.Number:
		n := v.Uint()
		if n == 0 || n > 0xffffff00 {
			return 0, false
		}
		return uint32(n), true
	case gjson.String:
		n, err := strconv.ParseUint(v.Str, 10, 32)
		if err != nil || n == 0 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}
