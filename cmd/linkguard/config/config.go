// Package config provides configuration parsing and management for linkguard.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. The Config struct contains all runtime
// configuration for the controller including:
//   - HTTP and gRPC listen addresses
//   - Telemetry mode (sysfs, ofctl, prometheus) and collaborator URLs
//   - Timing (sampling interval, forecast window, decision segment)
//   - Forecast model and decision thresholds
//   - Enforcement sink and pacing
//   - Decision snapshot storage (memory, redis)
//   - Logging and TLS
//
// Links, shaping classes and monitored sources are described in a YAML
// topology file (see LoadTopology).
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	topo, err := config.LoadTopology(cfg.TopologyFile)
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HatiCode/linkguard/pkg/tls"
)

// Config holds all controller configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	TopologyFile string

	Telemetry        string
	SysfsRoot        string
	SysfsStat        string
	OFCtlURL         string
	PromURL          string
	PromQuery        string
	PromLabel        string
	TelemetryTimeout time.Duration
	TelemetryTLS     tls.Config

	SamplingInterval time.Duration
	Window           time.Duration
	Segment          time.Duration

	Model                  string
	DenoiseFraction        float64
	HighFraction           float64
	MidFraction            float64
	RequireProtectedDemand bool
	Protected              []string
	Excluded               []string

	Enforcer        string
	TCPath          string
	EnforceInterval time.Duration

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	TLS tls.Config
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
// It exits the process when the topology file is not given.
func ParseFlags() *Config {
	cfg := &Config{}
	var protected, excluded string

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50052"), "gRPC health listen address (empty disables)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.TopologyFile, "topology", getEnv("TOPOLOGY_FILE", ""), "Path to the YAML topology file (required)")

	flag.StringVar(&cfg.Telemetry, "telemetry", getEnv("TELEMETRY", "sysfs"), "Telemetry source: sysfs, ofctl, or prometheus")
	flag.StringVar(&cfg.SysfsRoot, "sysfs-root", getEnv("SYSFS_ROOT", "/sys/class/net"), "Root of per-interface statistics")
	flag.StringVar(&cfg.SysfsStat, "sysfs-stat", getEnv("SYSFS_STAT", "rx_bytes"), "Statistic file read per interface")
	flag.StringVar(&cfg.OFCtlURL, "ofctl-url", getEnv("OFCTL_URL", "http://localhost:8080"), "Ryu ofctl_rest base URL")
	flag.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus base URL")
	flag.StringVar(&cfg.PromQuery, "prom-query", getEnv("PROM_QUERY", "node_network_receive_bytes_total"), "PromQL returning cumulative byte counters")
	flag.StringVar(&cfg.PromLabel, "prom-label", getEnv("PROM_LABEL", "device"), "Series label holding the interface name")
	flag.DurationVar(&cfg.TelemetryTimeout, "telemetry-timeout", getEnvDuration("TELEMETRY_TIMEOUT", 5*time.Second), "Timeout of each telemetry request")
	flag.BoolVar(&cfg.TelemetryTLS.Enabled, "telemetry-tls-enabled", getEnvBool("TELEMETRY_TLS_ENABLED", false), "Use TLS towards telemetry collaborators")
	flag.StringVar(&cfg.TelemetryTLS.CertFile, "telemetry-tls-cert-file", getEnv("TELEMETRY_TLS_CERT_FILE", ""), "Client certificate for telemetry collaborators")
	flag.StringVar(&cfg.TelemetryTLS.KeyFile, "telemetry-tls-key-file", getEnv("TELEMETRY_TLS_KEY_FILE", ""), "Client key for telemetry collaborators")
	flag.StringVar(&cfg.TelemetryTLS.CAFile, "telemetry-tls-ca-file", getEnv("TELEMETRY_TLS_CA_FILE", ""), "CA verifying telemetry collaborators")

	flag.DurationVar(&cfg.SamplingInterval, "sampling-interval", getEnvDuration("SAMPLING_INTERVAL", time.Second), "Counter sampling interval")
	flag.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 60*time.Second), "Forecast window (history length)")
	flag.DurationVar(&cfg.Segment, "segment", getEnvDuration("SEGMENT", 8*time.Second), "Decision cycle period")

	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", "spectral"), "Forecasting model: spectral or linear")
	flag.Float64Var(&cfg.DenoiseFraction, "denoise-fraction", getEnvFloat("DENOISE_FRACTION", 0.25), "Spectral denoise fraction in [0, 1)")
	flag.Float64Var(&cfg.HighFraction, "high-fraction", getEnvFloat("HIGH_FRACTION", 0.9), "Headroom threshold as a fraction of link capacity")
	flag.Float64Var(&cfg.MidFraction, "mid-fraction", getEnvFloat("MID_FRACTION", 0.5), "Contention threshold as a fraction of link capacity")
	flag.BoolVar(&cfg.RequireProtectedDemand, "require-protected-demand", getEnvBool("REQUIRE_PROTECTED_DEMAND", false), "Only shape when protected demand also exceeds the contention threshold")
	flag.StringVar(&protected, "protected", getEnv("PROTECTED_SOURCES", ""), "Comma-separated source IDs forced to the protected role")
	flag.StringVar(&excluded, "excluded", getEnv("EXCLUDED_SOURCES", ""), "Comma-separated source IDs excluded from decisions")

	flag.StringVar(&cfg.Enforcer, "enforcer", getEnv("ENFORCER", "tc"), "Enforcement sink: tc or log")
	flag.StringVar(&cfg.TCPath, "tc-path", getEnv("TC_PATH", "tc"), "Path to the tc binary")
	flag.DurationVar(&cfg.EnforceInterval, "enforce-interval", getEnvDuration("ENFORCE_INTERVAL", 0), "Minimum spacing between enforcement commands (0 disables)")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*time.Minute), "Decision snapshot TTL")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.Parse()

	cfg.Protected = splitList(protected)
	cfg.Excluded = splitList(excluded)

	if cfg.TopologyFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --topology is required")
		os.Exit(1)
	}

	return cfg
}

// RequiredHistory is the number of samples in one forecast window.
func (c *Config) RequiredHistory() int {
	return int(c.Window / c.SamplingInterval)
}

// SegmentSamples is the number of samples in one decision segment.
func (c *Config) SegmentSamples() int {
	return int(c.Segment / c.SamplingInterval)
}

// ResetAfter is how long the controller keeps history before discarding it:
// one window plus the time needed to refill the history.
func (c *Config) ResetAfter() time.Duration {
	return c.Window + time.Duration(c.RequiredHistory())*c.SamplingInterval
}

// Validate checks timing, model and threshold settings.
func (c *Config) Validate() error {
	var errs []error

	if c.SamplingInterval <= 0 {
		errs = append(errs, errors.New("sampling interval must be > 0"))
	}
	if c.Segment <= 0 {
		errs = append(errs, errors.New("segment must be > 0"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.New("window must be > 0"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	switch c.Model {
	case "spectral":
		if c.RequiredHistory() < 2 {
			errs = append(errs, fmt.Errorf("window %v holds %d samples, spectral needs at least 2", c.Window, c.RequiredHistory()))
		}
		if c.DenoiseFraction < 0 || c.DenoiseFraction >= 1 {
			errs = append(errs, fmt.Errorf("denoise fraction must be in [0, 1), got %v", c.DenoiseFraction))
		}
	case "linear":
		if c.RequiredHistory() < 5 {
			errs = append(errs, fmt.Errorf("window %v holds %d samples, linear needs at least 5", c.Window, c.RequiredHistory()))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid model %q (must be spectral or linear)", c.Model))
	}

	if c.SegmentSamples() < 1 {
		errs = append(errs, fmt.Errorf("segment %v is shorter than the sampling interval %v", c.Segment, c.SamplingInterval))
	}
	if c.HighFraction <= 0 || c.HighFraction > 1 {
		errs = append(errs, fmt.Errorf("high fraction must be in (0, 1], got %v", c.HighFraction))
	}
	if c.MidFraction <= 0 || c.MidFraction > c.HighFraction {
		errs = append(errs, fmt.Errorf("mid fraction must be in (0, high fraction], got %v", c.MidFraction))
	}

	switch c.Telemetry {
	case "sysfs", "ofctl", "prometheus":
	default:
		errs = append(errs, fmt.Errorf("invalid telemetry %q (must be sysfs, ofctl, or prometheus)", c.Telemetry))
	}
	switch c.Enforcer {
	case "tc", "log":
	default:
		errs = append(errs, fmt.Errorf("invalid enforcer %q (must be tc or log)", c.Enforcer))
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage))
	}

	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls: %w", err))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
