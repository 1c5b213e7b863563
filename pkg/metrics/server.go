// HTTP server for the engine's Prometheus endpoint
//
//	server := metrics.NewMetricsServer(metrics.NewEngineMetrics(), ":9100")
//	errc := server.StartAsync()
//	defer server.Shutdown(context.Background())
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Gatherer renders metrics in Prometheus text format.
type Gatherer interface {
	Gather() string
}

var errNotStarted = errors.New("server not started")

// MetricsServer serves /metrics, /health and /ready.
type MetricsServer struct {
	src    Gatherer
	server *http.Server
	mux    *http.ServeMux
	cfg    MetricsServerConfig

	running atomic.Bool

	// Refresh, if set, runs before every scrape.
	Refresh func()
	// Ready, if set, decides /ready once the server runs; a non-nil error
	// is reported with 503.
	Ready func() error
}

// MetricsServerConfig holds server configuration. Scrapes need basic
// auth when either credential is set.
type MetricsServerConfig struct {
	Address      string
	Username     string
	Password     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultMetricsServerConfig listens on :9100 with 10s timeouts.
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewMetricsServer creates a server on addr with the default timeouts.
func NewMetricsServer(src Gatherer, addr string) *MetricsServer {
	cfg := DefaultMetricsServerConfig()
	cfg.Address = addr
	return NewMetricsServerWithConfig(src, cfg)
}

// NewMetricsServerWithConfig creates a server from cfg.
func NewMetricsServerWithConfig(src Gatherer, cfg MetricsServerConfig) *MetricsServer {
	ms := &MetricsServer{src: src, mux: http.NewServeMux(), cfg: cfg}
	ms.mux.Handle("/metrics", ms.withAuth(http.HandlerFunc(ms.handleMetrics)))
	ms.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})
	ms.mux.HandleFunc("/ready", ms.handleReady)
	ms.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           ms.mux,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return ms
}

// Start serves until Shutdown.
func (ms *MetricsServer) Start() error {
	ms.running.Store(true)
	defer ms.running.Store(false)
	if err := ms.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync runs Start on a goroutine. The channel carries its error and
// is closed when it returns.
func (ms *MetricsServer) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := ms.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server gracefully.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	ms.running.Store(false)
	return ms.server.Shutdown(ctx)
}

// Running reports whether the server is serving.
func (ms *MetricsServer) Running() bool { return ms.running.Load() }

// Addr returns the configured listen address.
func (ms *MetricsServer) Addr() string { return ms.cfg.Address }

func (ms *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ms.Refresh != nil {
		ms.Refresh()
	}
	out := ms.src.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write([]byte(out))
}

func (ms *MetricsServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	err := ms.readiness()
	if err != nil {
		writeText(w, http.StatusServiceUnavailable, "Not Ready: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "Ready")
}

func (ms *MetricsServer) readiness() error {
	if !ms.running.Load() {
		return errNotStarted
	}
	if ms.Ready != nil {
		return ms.Ready()
	}
	return nil
}

func (ms *MetricsServer) withAuth(next http.Handler) http.Handler {
	if ms.cfg.Username == "" && ms.cfg.Password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !equal(user, ms.cfg.Username) || !equal(pass, ms.cfg.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="stepcore"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(msg + "\n"))
}
