// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fanout

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOutDeliversToAllSubscribers(t *testing.T) {
	s := New(Config{ChannelCapacity: 4}, discardLogger())

	idA, idB := uuid.New(), uuid.New()
	chA := make(chan *pb.SubscribeUpdate, 4)
	chB := make(chan *pb.SubscribeUpdate, 4)
	s.subs.Set(idA, chA)
	s.subs.Set(idB, chB)

	update := &pb.SubscribeUpdate{}
	s.fanOut(update)

	select {
	case got := <-chA:
		assert.Same(t, update, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received the update")
	}

	select {
	case got := <-chB:
		assert.Same(t, update, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received the update")
	}
}

func TestFanOutDropsLaggingSubscriber(t *testing.T) {
	s := New(Config{ChannelCapacity: 1}, discardLogger())

	id := uuid.New()
	ch := make(chan *pb.SubscribeUpdate, 1)
	s.subs.Set(id, ch)

	// Fill the subscriber's channel, then force it to be dropped.
	s.fanOut(&pb.SubscribeUpdate{})
	s.fanOut(&pb.SubscribeUpdate{})

	_, stillRegistered := s.subs.Get(id)
	assert.False(t, stillRegistered)

	_, chanOpen := <-ch
	assert.True(t, chanOpen, "the buffered message should still be readable")
	_, chanOpen = <-ch
	assert.False(t, chanOpen, "the channel should be closed after the subscriber is dropped")
}

func TestBroadcastStopsOnContextCancelAndClosesSubscribers(t *testing.T) {
	s := New(Config{ChannelCapacity: 4}, discardLogger())

	id := uuid.New()
	ch := make(chan *pb.SubscribeUpdate, 4)
	s.subs.Set(id, ch)

	ctx, cancel := context.WithCancel(context.Background())
	intake := make(chan *pb.SubscribeUpdate, 4)

	done := make(chan struct{})
	go func() {
		s.broadcast(ctx, intake)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast should return once ctx is cancelled")
	}

	_, open := <-ch
	assert.False(t, open)
}

func TestRunReturnsIntakeChannelAndStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", ChannelCapacity: 4}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	intake, err := s.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, intake)

	cancel()
	time.Sleep(50 * time.Millisecond)
}
