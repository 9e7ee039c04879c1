package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/HatiCode/linkguard/pkg/telemetry"
)

// PrometheusAdapter reads cumulative byte counters through the Prometheus
// HTTP API. It issues an instant /api/v1/query and maps each series to a
// port by the value of Label (e.g. the node_exporter "device" label).
//
// Series whose label value is not in Ports are ignored. Series sharing a
// label value are summed.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate. It must return cumulative
	// counters, not rates.
	Query string
	// Label names the series label carrying the interface name.
	Label string
	// Device is reported as PortKey.Device for every series.
	Device string
	// Ports maps interface names to port numbers.
	Ports map[string]uint32
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus:" + p.Device }

// Collect implements telemetry.StatsSource.
func (p *PrometheusAdapter) Collect(ctx context.Context) ([]telemetry.PortStats, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	label := p.Label
	if label == "" {
		label = "device"
	}

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	q.Set("query", p.Query)
	u.RawQuery = q.Encode()

	body, err := get(ctx, p.HTTPClient, u.String())
	if err != nil {
		return nil, err
	}

	var pr PrometheusVectorResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: decode prometheus response: %w", telemetry.ErrMalformedTelemetry, err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("%w: prometheus status %s: %s", telemetry.ErrSourceUnavailable, pr.Status, pr.Error)
	}
	if pr.Data.ResultType != "vector" {
		return nil, fmt.Errorf("%w: expected vector result, got %q", telemetry.ErrMalformedTelemetry, pr.Data.ResultType)
	}

	acc := make(map[string]uint64)
	for _, s := range pr.Data.Result {
		name := s.Metric[label]
		if _, ok := p.Ports[name]; !ok {
			continue
		}
		v, err := sampleValue(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: series %s: %w", telemetry.ErrMalformedTelemetry, name, err)
		}
		acc[name] += v
	}

	stats := make([]telemetry.PortStats, 0, len(acc))
	for name, v := range acc {
		stats = append(stats, telemetry.PortStats{
			Key:     telemetry.PortKey{Device: p.Device, Port: p.Ports[name]},
			Name:    name,
			RxBytes: v,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key.Port < stats[j].Key.Port })
	return stats, nil
}

// PrometheusVectorResponse represents an instant query response.
type PrometheusVectorResponse struct {
	Status string               `json:"status"`
	Error  string               `json:"error,omitempty"`
	Data   PrometheusVectorData `json:"data"`
}

// PrometheusVectorData contains the result data from an instant query.
type PrometheusVectorData struct {
	ResultType string                   `json:"resultType"`
	Result     []PrometheusVectorSample `json:"result"`
}

// PrometheusVectorSample is one series of an instant vector.
type PrometheusVectorSample struct {
	Metric map[string]string `json:"metric"`
	// Value is [ <unix_time_float>, "<value_string>" ]
	Value []any `json:"value"`
}

func sampleValue(pair []any) (uint64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("invalid value pair length: %d", len(pair))
	}
	s, ok := pair[1].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected value type %T", pair[1])
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value: %w", err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative counter %v", f)
	}
	return uint64(f), nil
}
