// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/solanabridge/geyser-kafka-bridge/kafka"
)

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
		return kafka.Message{}, context.Canceled
	}
	msg := f.messages[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeConsumer) Fatal() <-chan error {
	return f.fatal
}

func TestFeedFromKafkaDecodesAndForwards(t *testing.T) {
	payload, err := proto.Marshal(&pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Slot{Slot: &pb.SubscribeUpdateSlot{Slot: 42}},
	})
	require.NoError(t, err)

	c := newFakeConsumer(kafka.Message{Value: payload})
	intake := make(chan *pb.SubscribeUpdate, 1)

	done := make(chan error, 1)
	go func() { done <- FeedFromKafka(context.Background(), intake, c, nil) }()

	select {
	case update := <-intake:
		assert.NotNil(t, update.GetSlot())
		assert.Equal(t, uint64(42), update.GetSlot().GetSlot())
	case <-time.After(time.Second):
		t.Fatal("expected a decoded update on intake")
	}
}

func TestFeedFromKafkaSkipsUndecodableRecord(t *testing.T) {
	good, err := proto.Marshal(&pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Slot{Slot: &pb.SubscribeUpdateSlot{Slot: 7}},
	})
	require.NoError(t, err)

	c := newFakeConsumer(
		kafka.Message{Value: []byte{0x00}}, // field number 0 is invalid on the wire
		kafka.Message{Value: good},
	)
	intake := make(chan *pb.SubscribeUpdate, 1)

	go func() { _ = FeedFromKafka(context.Background(), intake, c, nil) }()

	select {
	case update := <-intake:
		assert.Equal(t, uint64(7), update.GetSlot().GetSlot())
	case <-time.After(time.Second):
		t.Fatal("expected the second, well-formed record to reach intake")
	}
}

func TestFeedFromKafkaStopsOnFatal(t *testing.T) {
	c := newFakeConsumer()
	c.fatal = make(chan error, 1)
	c.fatal <- assert.AnError

	err := FeedFromKafka(context.Background(), make(chan *pb.SubscribeUpdate, 1), c, nil)
	assert.Error(t, err)
}
