// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dedupstage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanabridge/geyser-kafka-bridge/dedup"
	"github.com/solanabridge/geyser-kafka-bridge/geyser"
	"github.com/solanabridge/geyser-kafka-bridge/kafka"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
	"github.com/solanabridge/geyser-kafka-bridge/publish"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConsumer struct {
	mu       sync.Mutex
	messages []kafka.Message
	idx      int
	fatal    chan error
}

func newFakeConsumer(messages ...kafka.Message) *fakeConsumer {
	return &fakeConsumer{messages: messages, fatal: make(chan error)}
}

func (f *fakeConsumer) Recv(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.messages) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.messages[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeConsumer) Fatal() <-chan error {
	return f.fatal
}

type fakeProducer struct {
	mu      sync.Mutex
	records []kafka.Record
}

func (p *fakeProducer) Send(ctx context.Context, record kafka.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return nil
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func TestRunnerForwardsFirstSeenKey(t *testing.T) {
	key := geyser.Key(10, []byte("payload"))
	c := newFakeConsumer(kafka.Message{Key: []byte(key), Value: []byte("payload")})
	backend, err := dedup.NewMemoryBackend(16)
	require.NoError(t, err)
	reg := metrics.New()
	producer := &fakeProducer{}
	sched := publish.NewScheduler(context.Background(), producer, 2, reg, discardLogger())

	r := NewRunner(Config{OutputTopic: "out"}, c, backend, sched, nil, reg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
	require.NoError(t, sched.Drain())

	assert.Equal(t, 1, producer.count())
	assert.Equal(t, "out", producer.records[0].Topic)
}

func TestRunnerDropsDuplicateKey(t *testing.T) {
	key := geyser.Key(10, []byte("payload"))
	c := newFakeConsumer(
		kafka.Message{Key: []byte(key), Value: []byte("payload")},
		kafka.Message{Key: []byte(key), Value: []byte("payload")},
	)
	backend, err := dedup.NewMemoryBackend(16)
	require.NoError(t, err)
	reg := metrics.New()
	producer := &fakeProducer{}
	sched := publish.NewScheduler(context.Background(), producer, 2, reg, discardLogger())

	r := NewRunner(Config{OutputTopic: "out"}, c, backend, sched, nil, reg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
	require.NoError(t, sched.Drain())

	assert.Equal(t, 1, producer.count())
}

func TestRunnerSkipsMalformedKey(t *testing.T) {
	c := newFakeConsumer(kafka.Message{Key: []byte("not-a-valid-key"), Value: []byte("payload")})
	backend, err := dedup.NewMemoryBackend(16)
	require.NoError(t, err)
	reg := metrics.New()
	producer := &fakeProducer{}
	sched := publish.NewScheduler(context.Background(), producer, 2, reg, discardLogger())

	r := NewRunner(Config{OutputTopic: "out"}, c, backend, sched, nil, reg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
	require.NoError(t, sched.Drain())

	assert.Equal(t, 0, producer.count())
}

func TestRunnerStopsOnConsumerFatal(t *testing.T) {
	c := newFakeConsumer()
	c.fatal = make(chan error, 1)
	c.fatal <- assert.AnError
	backend, err := dedup.NewMemoryBackend(16)
	require.NoError(t, err)
	reg := metrics.New()
	producer := &fakeProducer{}
	sched := publish.NewScheduler(context.Background(), producer, 2, reg, discardLogger())

	r := NewRunner(Config{OutputTopic: "out"}, c, backend, sched, nil, reg, discardLogger())

	err = r.Run(context.Background())
	assert.Error(t, err)
}

func TestRunnerSkipsDrainOnProducerFatal(t *testing.T) {
	c := newFakeConsumer(
		kafka.Message{Key: []byte(geyser.Key(10, []byte("payload"))), Value: []byte("payload")},
	)
	backend, err := dedup.NewMemoryBackend(16)
	require.NoError(t, err)
	reg := metrics.New()
	producer := &fakeProducer{}
	sched := publish.NewScheduler(context.Background(), producer, 2, reg, discardLogger())

	producerFatal := make(chan error, 1)
	producerFatal <- assert.AnError

	r := NewRunner(Config{OutputTopic: "out"}, c, backend, sched, producerFatal, reg, discardLogger())

	err = r.Run(context.Background())
	assert.Error(t, err)

	// Drain must return immediately instead of blocking on any
	// in-flight publish to a producer that just went fatal.
	done := make(chan error, 1)
	go func() { done <- sched.Drain() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked after a producer fatal error; SkipDrain was not applied")
	}
}
