// Command linkguard runs the closed-loop traffic-shaping controller.
//
// The controller defends one or more bottleneck links by:
//  1. Sampling per-source byte counters (sysfs, Ryu ofctl_rest or Prometheus)
//  2. Forecasting each source's throughput for the next segment
//  3. Comparing protected and contending demand against the link thresholds
//  4. Raising or lowering HTB class ceilings through tc
//  5. Publishing every decision via HTTP at /decision/current
//
// Links, shaping classes and sources are read from a YAML topology file.
//
// The controller serves an HTTP API on port 8082 (configurable) providing:
//   - GET /decision/current?link=<name> - Latest decision snapshot
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check driven by the decision loop
//   - GET /metrics - Prometheus metrics endpoint
//
// and a gRPC health service on port 50052 (configurable) mirroring /readyz.
//
// Usage:
//
//	linkguard \
//	  -topology=/etc/linkguard/topology.yaml \
//	  -telemetry=ofctl \
//	  -ofctl-url=http://ryu:8080 \
//	  -window=60s -segment=8s
//
// Environment variables:
//
//	TOPOLOGY_FILE     - Path to the topology file (required)
//	TELEMETRY         - Telemetry source: sysfs, ofctl, prometheus (default: sysfs)
//	SAMPLING_INTERVAL - Counter sampling interval (default: 1s)
//	WINDOW            - Forecast window (default: 60s)
//	SEGMENT           - Decision period (default: 8s)
//	MODEL             - Forecaster: spectral, linear (default: spectral)
//	HIGH_FRACTION     - Headroom threshold fraction (default: 0.9)
//	MID_FRACTION      - Contention threshold fraction (default: 0.5)
//	ENFORCER          - Enforcement sink: tc, log (default: tc)
//	STORAGE           - Snapshot storage: memory, redis (default: memory)
//	LOG_LEVEL         - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT        - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/linkguard/cmd/linkguard/config"
	"github.com/HatiCode/linkguard/cmd/linkguard/logger"
	"github.com/HatiCode/linkguard/cmd/linkguard/metrics"
	"github.com/HatiCode/linkguard/cmd/linkguard/models"
	"github.com/HatiCode/linkguard/cmd/linkguard/router"
	"github.com/HatiCode/linkguard/cmd/linkguard/store"
	"github.com/HatiCode/linkguard/internal/clock"
	"github.com/HatiCode/linkguard/pkg/enforce"
	"github.com/HatiCode/linkguard/pkg/httpx"
	lgtls "github.com/HatiCode/linkguard/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting linkguard",
		"version", version,
		"topology", cfg.TopologyFile,
		"telemetry", cfg.Telemetry,
		"model", cfg.Model,
		"enforcer", cfg.Enforcer,
		"tls_enabled", cfg.TLS.Enabled,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err == nil {
		err = topo.Normalize(cfg)
	}
	if err != nil {
		logger.Error("invalid topology", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	clk := clock.Real{}

	forecaster, err := models.New(cfg, clk, logger)
	if err != nil {
		logger.Error("failed to create forecaster", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		switch s := st.(type) {
		case interface{ Close() error }:
			if err := s.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		case interface{ Stop() }:
			s.Stop()
		}
	}()

	client, err := httpx.NewClient(cfg.TelemetryTLS, cfg.TelemetryTimeout)
	if err != nil {
		logger.Error("failed to create telemetry client", "error", err)
		os.Exit(1)
	}

	links := buildLinks(cfg, topo)
	collectors, err := buildCollectors(cfg, topo, links, client, logger, m)
	if err != nil {
		logger.Error("failed to create telemetry collectors", "error", err)
		os.Exit(1)
	}

	var sink enforce.Sink
	switch cfg.Enforcer {
	case "tc":
		sink = enforce.NewTCSink(enforce.ExecRunner{}, cfg.TCPath, logger)
	default:
		sink = enforce.NewLogSink(logger)
	}
	limiter := enforce.NewRateLimiter(sink, logger, enforce.WithPacing(cfg.EnforceInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, tl := range topo.Links {
		if err := limiter.Setup(ctx, tl.Interface, hierarchy(tl)); err != nil {
			if !errors.Is(err, enforce.ErrEnforcementFailure) {
				logger.Error("invalid shaping classes", "link", tl.Name, "error", err)
				os.Exit(1)
			}
			// The control loop reinstalls it before deciding on this link.
			m.RecordError("enforce", "install_failed")
		}
	}

	loop := NewControlLoop(
		links,
		collectors,
		forecaster,
		forecaster.Cache(),
		limiter,
		st,
		LoopConfig{
			SamplingInterval: cfg.SamplingInterval,
			Segment:          cfg.Segment,
			SegmentSamples:   cfg.SegmentSamples(),
			ResetAfter:       cfg.ResetAfter(),
		},
		clk,
		logger,
		m,
	)

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer = grpc.NewServer()

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			logger.Error("failed to listen", "error", err)
			os.Exit(1)
		}

		go func() {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc server failed", "error", err)
			}
		}()

		go watchReadiness(ctx, loop, healthServer, cfg.Segment)
	}

	staleAfter := 2 * cfg.Segment
	mux := router.SetupRoutes(st, staleAfter, loop.Ready, logger)
	handler := httpx.Chain(mux, httpx.LoggingMiddleware(logger), httpx.RecoveryMiddleware(logger))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	if cfg.TLS.Enabled {
		tlsConfig, err := lgtls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			logger.Error("failed to create TLS config", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	case <-loopDone:
	}

	logger.Info("shutting down")
	cancel()
	<-loopDone

	if grpcServer != nil {
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
	}

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

// watchReadiness mirrors the control loop's readiness into the gRPC health
// service once per interval.
func watchReadiness(ctx context.Context, loop *ControlLoop, hs *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if loop.Ready() != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
