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

// Consumer wraps a *kgo.Client for the bridge's consume paths (modes
// Dedup and Kafka2Grpc both consume a single topic and commit after
// the record has been handed off downstream).
type Consumer struct {
	client *kgo.Client
	log    *slog.Logger

	fatal     chan error
	fatalOnce sync.Once

	mu      sync.Mutex
	pending []*kgo.Record
	last    *kgo.Record
}

// NewConsumer builds a Consumer from a flat key/value configuration
// plus a required consumer group ID.
func NewConsumer(brokers []string, groupID string, opts map[string]string, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		log:   logger,
		fatal: make(chan error, 1),
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.WithLogger(kslog.New(logger)),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.AutoCommitMarks(),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
				kotel.ConsumerGroup(groupID),
			),
			kotel.NewMeter(kotel.MeterProvider(otel.GetMeterProvider())),
			consumerFatalHook{c: c},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer client: %w", err)
	}

	c.client = client
	return c, nil
}

type consumerFatalHook struct {
	c *Consumer
}

func (h consumerFatalHook) OnBrokerConnect(meta kgo.BrokerMetadata, dialDur time.Duration, conn net.Conn, err error) {
	if err == nil {
		return
	}
	h.c.fireFatal(fmt.Errorf("kafka: broker connect failed: %w", err))
}

// Subscribe adds topic to the consumer's subscription.
func (c *Consumer) Subscribe(topic string) {
	c.client.AddConsumeTopics(topic)
}

// Recv returns the next message, blocking until one is available,
// ctx is cancelled, or a fetch error occurs. Commits the previously
// returned record's offset before polling for the next batch, giving
// the bridge at-least-once delivery (a crash between Recv and the
// caller's downstream effect can redeliver).
func (c *Consumer) Recv(ctx context.Context) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil {
		c.client.MarkCommitRecords(c.last)
		c.last = nil
	}

	for len(c.pending) == 0 {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.WarnContext(
				ctx,
				"kafka fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err),
			)
			if fetchErr == nil {
				fetchErr = err
			}
		})

		c.pending = fetches.Records()
		if len(c.pending) == 0 && fetchErr != nil {
			return Message{}, fetchErr
		}
	}

	rec := c.pending[0]
	c.pending = c.pending[1:]
	c.last = rec
	return toMessage(rec), nil
}

func toMessage(rec *kgo.Record) Message {
	return Message{
		Key:       rec.Key,
		Value:     rec.Value,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
	}
}

// Fatal returns the sideband channel that fires exactly once on an
// unrecoverable transport error.
func (c *Consumer) Fatal() <-chan error {
	return c.fatal
}

func (c *Consumer) fireFatal(err error) {
	c.fatalOnce.Do(func() {
		c.log.Error("kafka consumer encountered a fatal error", slog.Any("error", err))
		c.fatal <- err
		close(c.fatal)
	})
}

// Close releases the underlying client. Safe to call once.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
