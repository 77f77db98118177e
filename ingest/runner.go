// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package ingest implements the gRPC ingest stage of mode Grpc2Kafka
// (§4.G): a four-state machine — Connecting, Subscribing, Streaming,
// Backoff — with round-robin endpoint fail-over and single-advance-
// per-failure cursor semantics (§9 Open Question 2).
package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/encoding/protojson"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/solanabridge/geyser-kafka-bridge/geyser"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
	"github.com/solanabridge/geyser-kafka-bridge/publish"
)

const (
	connectTimeout = 10 * time.Second
	callTimeout    = 5 * time.Second
	backoffSleep   = 2000 * time.Millisecond
)

type state int

const (
	stateConnecting state = iota
	stateSubscribing
	stateStreaming
	stateBackoff
)

// Config configures a Runner, mapping directly to the grpc2kafka
// section of the bridge's JSON config (§6).
type Config struct {
	Endpoints             []string
	XToken                string
	Request               []byte // raw JSON, unmarshaled via protojson into *pb.SubscribeRequest
	Topic                 string
	QueueSize             int
	PublishNonTransaction bool
}

// Runner drives the ingest state machine described in §4.G.
type Runner struct {
	cfg       Config
	scheduler *publish.Scheduler
	fatal     <-chan error
	metrics   *metrics.Registry
	log       *slog.Logger

	cursor int
	conn   *grpc.ClientConn
	stream pb.Geyser_SubscribeClient
}

// NewRunner builds a Runner. fatal is the producer's sideband channel
// (§4.F): observing it aborts the state machine immediately.
func NewRunner(cfg Config, scheduler *publish.Scheduler, fatal <-chan error, reg *metrics.Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, scheduler: scheduler, fatal: fatal, metrics: reg, log: log}
}

// Run executes the state machine until ctx is cancelled or the
// producer's fatal sideband fires. The outer loop is infinite by
// design otherwise: the bridge is expected to survive upstream
// outages indefinitely.
func (r *Runner) Run(ctx context.Context) error {
	st := stateConnecting
	for {
		select {
		case <-ctx.Done():
			r.closeConn()
			return nil
		case err := <-r.fatal:
			r.scheduler.SkipDrain()
			r.closeConn()
			return fmt.Errorf("ingest: producer fatal error: %w", err)
		default:
		}

		var err error
		switch st {
		case stateConnecting:
			err = r.connect(ctx)
			if err != nil {
				r.log.WarnContext(ctx, "ingest connect failed", slog.Any("error", err), slog.Int("cursor", r.cursor))
				st = stateBackoff
				continue
			}
			st = stateSubscribing
		case stateSubscribing:
			err = r.subscribe(ctx)
			if err != nil {
				r.log.WarnContext(ctx, "ingest subscribe failed", slog.Any("error", err), slog.Int("cursor", r.cursor))
				st = stateBackoff
				continue
			}
			st = stateStreaming
		case stateStreaming:
			err = r.stream_(ctx)
			if err != nil {
				if !errors.Is(err, errGracefulClose) {
					r.log.WarnContext(ctx, "ingest stream error", slog.Any("error", err), slog.Int("cursor", r.cursor))
				}
				st = stateBackoff
				continue
			}
		case stateBackoff:
			if err := r.backoff(ctx); err != nil {
				r.closeConn()
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ingest: producer fatal error: %w", err)
			}
			st = stateConnecting
		}
	}
}

func (r *Runner) connect(ctx context.Context) error {
	r.closeConn()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	endpoint := r.cfg.Endpoints[r.cursor]

	pool, err := x509.SystemCertPool()
	if err != nil {
		return fmt.Errorf("load system cert pool: %w", err)
	}
	creds := credentials.NewTLS(&tls.Config{RootCAs: pool})

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds), grpc.WithBlock()}
	if r.cfg.XToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(xTokenCreds(r.cfg.XToken)))
	}

	conn, err := grpc.DialContext(dialCtx, endpoint, opts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	r.conn = conn
	return nil
}

// xTokenCreds implements credentials.PerRPCCredentials, attaching the
// bearer x-token header to every RPC made over the connection
// (including the long-lived Subscribe stream), rather than a one-off
// outgoing-context attached per call.
type xTokenCreds string

func (x xTokenCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"x-token": string(x)}, nil
}

func (x xTokenCreds) RequireTransportSecurity() bool {
	return true
}

func (r *Runner) subscribe(ctx context.Context) error {
	client := pb.NewGeyserClient(r.conn)

	stream, err := client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("open subscribe stream: %w", err)
	}

	req := &pb.SubscribeRequest{}
	if len(r.cfg.Request) > 0 {
		if err := protojson.Unmarshal(r.cfg.Request, req); err != nil {
			return fmt.Errorf("unmarshal subscription request: %w", err)
		}
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- stream.Send(req) }()

	select {
	case err := <-sendDone:
		if err != nil {
			return fmt.Errorf("send subscription request: %w", err)
		}
	case <-time.After(callTimeout):
		return fmt.Errorf("send subscription request: timed out after %s", callTimeout)
	}

	r.stream = stream
	return nil
}

var errGracefulClose = errors.New("ingest: stream closed by peer")

func (r *Runner) stream_(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-r.fatal:
			r.scheduler.SkipDrain()
			return fmt.Errorf("producer fatal: %w", err)
		default:
		}

		update, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			return errGracefulClose
		}
		if err != nil {
			return err
		}

		r.handleUpdate(ctx, update)
	}
}

func (r *Runner) handleUpdate(ctx context.Context, update *pb.SubscribeUpdate) {
	r.metrics.RecvTotal.Inc()

	slot, kind, payload, ok := geyser.Classify(r.log, update)

	if kind == geyser.KindTransaction && ok {
		key := geyser.Key(slot, payload)
		r.scheduler.Submit(publish.Record{
			Key:     []byte(key),
			Payload: payload,
			Topic:   r.cfg.Topic,
			Kind:    kind,
		})
		return
	}

	if !r.cfg.PublishNonTransaction || kind == geyser.KindUnknown {
		return
	}

	raw, err := protoBytes(update)
	if err != nil {
		r.log.WarnContext(ctx, "failed to encode non-transaction update, dropping", slog.Any("error", err))
		return
	}

	key := geyser.Key(slot, raw)
	r.scheduler.Submit(publish.Record{
		Key:     []byte(key),
		Payload: raw,
		Topic:   r.cfg.Topic,
		Kind:    kind,
	})
}

// protoBytes encodes a full update envelope for the non-transaction
// publish path (publish_non_transaction=true), using the same
// proto-name JSON convention as Classify's transaction payloads so
// downstream consumers see one consistent wire shape regardless of
// update kind.
func protoBytes(update *pb.SubscribeUpdate) ([]byte, error) {
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(update)
}

func (r *Runner) backoff(ctx context.Context) error {
	r.cursor = (r.cursor + 1) % len(r.cfg.Endpoints)
	if r.metrics != nil {
		r.metrics.EndpointCursor.Set(float64(r.cursor))
	}

	timer := time.NewTimer(backoffSleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-r.fatal:
		r.scheduler.SkipDrain()
		return err
	case <-timer.C:
		return nil
	}
}

func (r *Runner) closeConn() {
	if r.stream != nil {
		_ = r.stream.CloseSend()
		r.stream = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}
