// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka wraps github.com/twmb/franz-go/pkg/kgo into the
// producer/consumer shapes §4.C/§4.D describe: flat key/value
// construction, synchronous send/recv, and a sideband channel that
// fires exactly once on an unrecoverable transport error.
package kafka

import "time"

// Record is an outbound message, as accepted by [Producer.Send].
type Record struct {
	Key   []byte
	Value []byte
	Topic string
}

// Message is an inbound message, as returned by [Consumer.Recv].
// Key and Value are nil when the record carried no bytes for that
// field, matching §4.D's "optional byte slices" contract.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}
