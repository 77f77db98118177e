// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dedupstage implements mode Dedup (§4.H): consume from an
// input topic, drop records whose key has already been observed by a
// [dedup.Backend], and republish the rest unchanged to an output
// topic.
package dedupstage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solanabridge/geyser-kafka-bridge/dedup"
	"github.com/solanabridge/geyser-kafka-bridge/geyser"
	"github.com/solanabridge/geyser-kafka-bridge/kafka"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
	"github.com/solanabridge/geyser-kafka-bridge/publish"
)

// consumer is the subset of [kafka.Consumer] the stage depends on,
// narrowed for testability.
type consumer interface {
	Recv(ctx context.Context) (kafka.Message, error)
	Fatal() <-chan error
}

// Config configures a Runner, mapping to the dedup section of the
// bridge's JSON config (§6).
type Config struct {
	OutputTopic string
}

// Runner drives mode Dedup's consume loop.
type Runner struct {
	cfg           Config
	consumer      consumer
	backend       dedup.Backend
	scheduler     *publish.Scheduler
	producerFatal <-chan error
	metrics       *metrics.Registry
	log           *slog.Logger
}

// NewRunner builds a Runner. producerFatal is the downstream
// producer's sideband channel (§4.F): observing it means the
// scheduler's in-flight tasks can never complete, so Drain must be
// skipped rather than awaited.
func NewRunner(cfg Config, c consumer, backend dedup.Backend, scheduler *publish.Scheduler, producerFatal <-chan error, reg *metrics.Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, consumer: c, backend: backend, scheduler: scheduler, producerFatal: producerFatal, metrics: reg, log: log}
}

// Run consumes records until ctx is cancelled or either the consumer
// or the downstream producer reports a fatal transport error.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-r.consumer.Fatal():
			return fmt.Errorf("dedupstage: consumer fatal error: %w", err)
		case err := <-r.producerFatal:
			r.scheduler.SkipDrain()
			return fmt.Errorf("dedupstage: producer fatal error: %w", err)
		default:
		}

		msg, err := r.consumer.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("dedupstage: receive failed: %w", err)
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg kafka.Message) error {
	slot, hash, ok := geyser.ParseKey(string(msg.Key))
	if !ok {
		return nil
	}

	allowed, err := r.backend.Allowed(ctx, slot, hash)
	if err != nil {
		return fmt.Errorf("dedupstage: backend failure: %w", err)
	}

	if !allowed {
		r.metrics.DedupTotal.Inc()
		return nil
	}

	r.scheduler.Submit(publish.Record{
		Key:     msg.Key,
		Payload: msg.Value,
		Topic:   r.cfg.OutputTopic,
		Kind:    geyser.KindUnknown,
	})
	return nil
}
