// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package publish implements the bounded publish scheduler of §4.F:
// in-flight publish tasks capped at queue_size, draining on shutdown
// unless the producer's fatal sideband has already fired.
package publish

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/solanabridge/geyser-kafka-bridge/geyser"
	"github.com/solanabridge/geyser-kafka-bridge/kafka"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
)

// Record is what the scheduler hands to the producer for a single
// publish task.
type Record struct {
	Key     []byte
	Payload []byte
	Topic   string
	Kind    geyser.UpdateKind
}

// sender is the subset of [kafka.Producer] the scheduler depends on,
// narrowed so tests can substitute a fake without a live broker.
type sender interface {
	Send(ctx context.Context, record kafka.Record) error
}

// Scheduler bounds in-flight publish tasks at queueSize via
// conc/pool's WithMaxGoroutines, the same pool.New().WithContext(ctx)
// idiom healthsrv.Server.Run uses.
type Scheduler struct {
	producer sender
	pool     *pool.ContextPool
	metrics  *metrics.Registry
	log      *slog.Logger

	skipDrain bool
}

// NewScheduler builds a Scheduler bounded at queueSize concurrent
// publish tasks.
func NewScheduler(ctx context.Context, producer sender, queueSize int, reg *metrics.Registry, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(queueSize)
	return &Scheduler{
		producer: producer,
		pool:     p,
		metrics:  reg,
		log:      log,
	}
}

// Submit enqueues record, blocking when |in-flight| == queueSize per
// §4.F's back-pressure contract. On producer send failure the error
// is surfaced from Drain, which aborts the pipeline.
func (s *Scheduler) Submit(record Record) {
	s.pool.Go(func(ctx context.Context) error {
		s.metrics.InflightPublishes.Inc()
		defer s.metrics.InflightPublishes.Dec()

		err := s.producer.Send(ctx, kafka.Record{
			Key:   record.Key,
			Value: record.Payload,
			Topic: record.Topic,
		})
		if err != nil {
			s.log.ErrorContext(ctx, "publish failed", slog.Any("error", err))
			return err
		}

		s.metrics.SentTotal.WithLabelValues(record.Kind.String()).Inc()
		return nil
	})
}

// SkipDrain marks the scheduler so Drain returns immediately without
// awaiting in-flight tasks — called when the producer's fatal
// sideband fires, since draining through a dead producer would hang.
func (s *Scheduler) SkipDrain() {
	s.skipDrain = true
}

// Drain stops accepting new work (the caller must not call Submit
// again) and waits for all in-flight tasks to complete, unless
// SkipDrain was called.
func (s *Scheduler) Drain() error {
	if s.skipDrain {
		return nil
	}
	return s.pool.Wait()
}
