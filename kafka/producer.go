// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
)

// Producer wraps a *kgo.Client for the bridge's publish path.
type Producer struct {
	client *kgo.Client
	log    *slog.Logger

	fatal     chan error
	fatalOnce sync.Once
}

// NewProducer builds a Producer connected to brokers. opts is the
// flat key/value configuration; no key of it is applied to the
// client, so every entry is ignored (callers derive brokers from its
// "bootstrap.servers" value themselves).
func NewProducer(brokers []string, opts map[string]string, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Producer{
		log:   logger,
		fatal: make(chan error, 1),
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithLogger(kslog.New(logger)),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
			),
			kotel.NewMeter(kotel.MeterProvider(otel.GetMeterProvider())),
			producerFatalHook{p: p},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer client: %w", err)
	}

	p.client = client
	return p, nil
}

// producerFatalHook observes broker connection failures via franz-go's
// hook interface and fires the sideband fatal channel exactly once
// when the client itself reports it cannot reach any seed broker.
type producerFatalHook struct {
	p *Producer
}

func (h producerFatalHook) OnBrokerConnect(meta kgo.BrokerMetadata, dialDur time.Duration, conn net.Conn, err error) {
	if err == nil {
		return
	}
	h.p.fireFatal(fmt.Errorf("kafka: broker connect failed: %w", err))
}

// Send publishes record and blocks for the produce promise, matching
// §4.C: per-send errors are returned synchronously; the sideband
// channel is reserved for producer-wide fatal conditions.
func (p *Producer) Send(ctx context.Context, record Record) error {
	r := &kgo.Record{
		Key:   record.Key,
		Value: record.Value,
		Topic: record.Topic,
	}

	type result struct {
		err error
	}
	done := make(chan result, 1)

	p.client.Produce(ctx, r, func(_ *kgo.Record, err error) {
		done <- result{err: err}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		return res.err
	}
}

// Fatal returns the sideband channel that fires exactly once on an
// unrecoverable transport error.
func (p *Producer) Fatal() <-chan error {
	return p.fatal
}

func (p *Producer) fireFatal(err error) {
	p.fatalOnce.Do(func() {
		p.log.Error("kafka producer encountered a fatal error", slog.Any("error", err))
		p.fatal <- err
		close(p.fatal)
	})
}

// Close releases the underlying client. Safe to call once.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
