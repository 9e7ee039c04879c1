// Package adapters provides telemetry connectors that read cumulative port
// counters from external systems and normalize them into
// [telemetry.PortStats].
//
// Each adapter implements telemetry.StatsSource and is driven by a
// telemetry.Poller. Available adapters:
//   - OFCtlAdapter: Ryu ofctl_rest port statistics and port descriptions
//   - PrometheusAdapter: instant query over a cumulative byte counter metric
//
// Adapters only fetch and shape raw counters. Delta computation, gap handling
// and buffering happen in the telemetry package.
package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HatiCode/linkguard/pkg/telemetry"
)

const defaultTimeout = 5 * time.Second

var (
	_ telemetry.StatsSource = (*OFCtlAdapter)(nil)
	_ telemetry.StatsSource = (*PrometheusAdapter)(nil)
)

// get fetches u and returns the body. Transport failures and non-200
// responses wrap telemetry.ErrSourceUnavailable.
func get(ctx context.Context, cli *http.Client, u string) ([]byte, error) {
	if cli == nil {
		cli = &http.Client{Timeout: defaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", telemetry.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: GET %s: status %d: %s", telemetry.ErrSourceUnavailable, u, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", telemetry.ErrSourceUnavailable, err)
	}
	return body, nil
}
