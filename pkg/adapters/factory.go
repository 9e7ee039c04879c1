package adapters

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/HatiCode/linkguard/pkg/telemetry"
)

// Config is the generic adapter configuration.
type Config struct {
	// URL of the collaborator. Defaults per kind.
	URL string
	// Device is the datapath ID (ofctl) or the device name reported in
	// port keys (prometheus).
	Device string
	// Query and Label configure the prometheus adapter.
	Query string
	Label string
	// Ports maps interface names to port numbers (prometheus).
	Ports map[string]uint32
	// Timeout bounds each HTTP request. Zero uses the default.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout, e.g. for TLS.
	HTTPClient *http.Client
}

// New creates a stats source based on kind. This is the central extension
// point for adding new telemetry collaborators.
//
// Supported kinds:
//   - "ofctl": Ryu ofctl_rest adapter
//   - "prometheus": Prometheus instant-query adapter
func New(kind string, cfg Config) (telemetry.StatsSource, error) {
	switch kind {
	case "ofctl":
		return newOFCtl(cfg)
	case "prometheus":
		return newPrometheus(cfg)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be ofctl or prometheus)", kind)
	}
}

func newOFCtl(cfg Config) (telemetry.StatsSource, error) {
	dpid, err := strconv.ParseUint(cfg.Device, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("ofctl adapter requires a numeric datapath id, got %q", cfg.Device)
	}
	u := cfg.URL
	if u == "" {
		u = "http://localhost:8080"
	}
	return &OFCtlAdapter{
		ServerURL:  u,
		DPID:       dpid,
		HTTPClient: client(cfg),
	}, nil
}

func newPrometheus(cfg Config) (telemetry.StatsSource, error) {
	if cfg.Query == "" {
		return nil, fmt.Errorf("prometheus adapter requires a query")
	}
	if len(cfg.Ports) == 0 {
		return nil, fmt.Errorf("prometheus adapter requires at least one port")
	}
	u := cfg.URL
	if u == "" {
		u = "http://localhost:9090"
	}
	label := cfg.Label
	if label == "" {
		label = "device"
	}
	return &PrometheusAdapter{
		ServerURL:  u,
		Query:      cfg.Query,
		Label:      label,
		Device:     cfg.Device,
		Ports:      cfg.Ports,
		HTTPClient: client(cfg),
	}, nil
}

func client(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
