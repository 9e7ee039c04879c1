// Package httpx provides HTTP server utilities and helpers for linkguard.
package httpx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lgtls "github.com/HatiCode/linkguard/pkg/tls"
)

// Server wraps http.Server with graceful shutdown.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on addr. A nil handler uses
// http.DefaultServeMux.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// SetTLSConfig makes Start serve HTTPS with config. Must be called before
// Start.
func (s *Server) SetTLSConfig(config *tls.Config) {
	s.server.TLSConfig = config
}

// Start serves until Stop is called. It serves HTTPS when a TLS config with
// certificates was set.
func (s *Server) Start() error {
	var err error
	if cfg := s.server.TLSConfig; cfg != nil && len(cfg.Certificates) > 0 {
		s.logger.Info("starting HTTPS server", "addr", s.server.Addr)
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server", "addr", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server, waiting up to timeout for active
// connections.
func (s *Server) Stop(timeout time.Duration) error {
	s.logger.Info("stopping HTTP server", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server stopped gracefully")
	return nil
}

// ErrorResponse is the JSON body of every error reply: {"error":"<msg>"}.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteError writes err as an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes message as an ErrorResponse.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	if err := WriteJSON(w, status, ErrorResponse{Error: message}); err != nil {
		slog.Error("failed to write error message", "error", err, "message", message)
	}
}

// HealthHandler always answers 200 OK.
func HealthHandler() http.HandlerFunc {
	return HealthHandlerWithCheck(func() error { return nil })
}

// HealthHandlerWithCheck answers 503 with the check's error, or 200 OK.
func HealthHandlerWithCheck(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(); err != nil {
			WriteError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	}
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoggingMiddleware logs method, path, status and duration of each request.
// Probe and scrape paths are logged at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
					)
					WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NewClient creates an HTTP client for telemetry collaborators. When
// tlsCfg.Enabled is set, servers are verified against tlsCfg.CAFile and the
// client certificate is presented if configured.
func NewClient(tlsCfg lgtls.Config, timeout time.Duration) (*http.Client, error) {
	var clientTLS *tls.Config
	if tlsCfg.Enabled {
		var err error
		clientTLS, err = lgtls.NewClientTLSConfig(tlsCfg.CertFile, tlsCfg.KeyFile, tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			TLSClientConfig:     clientTLS,
		},
	}, nil
}
