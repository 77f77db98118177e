// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package healthsrv serves the bridge's HTTP health endpoint: GET
// /health and GET /internal/health, both answering "OK"/200 while the
// backing health.Monitor reports healthy.
package healthsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/solanabridge/geyser-kafka-bridge/health"
)

// Server is a running HTTP health server. Zero value is not usable;
// build one with New.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// New binds addr and wires /health and /internal/health to monitor.
func New(addr string, monitor health.Monitor) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	handler := handleHealth(monitor)
	mux.HandleFunc("/health", handler)
	mux.HandleFunc("/internal/health", handler)

	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}, nil
}

// Addr returns the bound address, useful for tests that bind ":0".
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func handleHealth(monitor health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, err := monitor.Healthy(r.Context())
		if err != nil || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. It
// uses the same pool.New().WithContext(ctx) pattern for racing Serve
// against a shutdown goroutine that this codebase uses elsewhere.
func (s *Server) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx)

	p.Go(func(ctx context.Context) error {
		return s.srv.Serve(s.ln)
	})

	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return s.srv.Shutdown(context.Background())
	})

	err := p.Wait()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
