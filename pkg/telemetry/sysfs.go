package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysfsRoot is where Linux exposes per-interface statistics.
const DefaultSysfsRoot = "/sys/class/net"

// SysfsCounter reads an interface statistic such as rx_bytes from sysfs.
type SysfsCounter struct {
	path string
}

// NewSysfsCounter returns a counter for <root>/<iface>/statistics/<stat>.
// stat defaults to rx_bytes and root to DefaultSysfsRoot.
func NewSysfsCounter(root, iface, stat string) *SysfsCounter {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if stat == "" {
		stat = "rx_bytes"
	}
	return &SysfsCounter{path: filepath.Join(root, iface, "statistics", stat)}
}

// Path returns the file the counter reads.
func (c *SysfsCounter) Path() string { return c.path }

// ReadCounter implements CounterSource.
func (c *SysfsCounter) ReadCounter(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return 0, fmt.Errorf("%w: %s", ErrSourceUnavailable, c.path)
		}
		return 0, fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, c.path, err)
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrMalformedTelemetry, c.path, err)
	}
	return v, nil
}
