// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanabridge/geyser-kafka-bridge/geyser"
	"github.com/solanabridge/geyser-kafka-bridge/kafka"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
)

type fakeSender struct {
	mu          sync.Mutex
	inflight    int
	maxInflight int
	delay       time.Duration
	failOn      string
}

func (f *fakeSender) Send(ctx context.Context, record kafka.Record) error {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if f.failOn != "" && string(record.Key) == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func TestSchedulerRespectsQueueSize(t *testing.T) {
	sender := &fakeSender{delay: 20 * time.Millisecond}
	reg := metrics.New()
	s := NewScheduler(context.Background(), sender, 2, reg, nil)

	for i := 0; i < 6; i++ {
		s.Submit(Record{Key: []byte("k"), Payload: []byte("v"), Topic: "t", Kind: geyser.KindTransaction})
	}
	require.NoError(t, s.Drain())

	assert.LessOrEqual(t, sender.maxInflight, 2)
}

func TestSchedulerSentCounterIncrementsPerKind(t *testing.T) {
	sender := &fakeSender{}
	reg := metrics.New()
	s := NewScheduler(context.Background(), sender, 4, reg, nil)

	s.Submit(Record{Key: []byte("k"), Payload: []byte("v"), Topic: "t", Kind: geyser.KindTransaction})
	require.NoError(t, s.Drain())

	var m dto.Metric
	require.NoError(t, reg.SentTotal.WithLabelValues("transaction").Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestSchedulerSkipDrainAfterProducerFatal(t *testing.T) {
	sender := &fakeSender{delay: time.Hour}
	reg := metrics.New()
	s := NewScheduler(context.Background(), sender, 1, reg, nil)

	s.Submit(Record{Key: []byte("k"), Payload: []byte("v"), Topic: "t"})
	s.SkipDrain()

	done := make(chan error, 1)
	go func() { done <- s.Drain() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Drain should return immediately once SkipDrain is set")
	}
}

