// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics exposes the bridge's Prometheus metric surface:
// recv_total, sent_total{kind}, dedup_total, an in-flight-publish
// gauge, and (Grpc2Kafka only) an endpoint-cursor gauge, served over
// the address named by the config's "prometheus" field.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geyser_kafka_bridge"

// Registry holds the counters and gauges named in §6 of the bridge's
// external interface contract.
type Registry struct {
	reg *prometheus.Registry

	RecvTotal         prometheus.Counter
	SentTotal         *prometheus.CounterVec
	DedupTotal        prometheus.Counter
	InflightPublishes prometheus.Gauge
	EndpointCursor    prometheus.Gauge
}

// New builds a fresh, independently-registered Registry. Each call
// returns an isolated *prometheus.Registry so tests never collide on
// the default global registerer.
func New() *Registry {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	return &Registry{
		reg: reg,
		RecvTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recv_total",
			Help:      "Total number of updates received from the upstream source.",
		}),
		SentTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_total",
			Help:      "Total number of records successfully published to Kafka, by update kind.",
		}, []string{"kind"}),
		DedupTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_total",
			Help:      "Total number of messages dropped as duplicates in mode Dedup.",
		}),
		InflightPublishes: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_publishes",
			Help:      "Current number of publish tasks awaiting Kafka acknowledgement.",
		}),
		EndpointCursor: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_cursor",
			Help:      "Index of the endpoint currently in use by the gRPC ingest stage.",
		}),
	}
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// cancelled, then shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return <-errCh
	case err := <-errCh:
		return err
	}
}
