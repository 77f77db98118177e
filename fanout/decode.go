// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/proto"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/solanabridge/geyser-kafka-bridge/kafka"
)

// consumer is the subset of [kafka.Consumer] the feed loop depends
// on, narrowed for testability.
type consumer interface {
	Recv(ctx context.Context) (kafka.Message, error)
	Fatal() <-chan error
}

// FeedFromKafka is mode Kafka2Grpc's outer loop (§4.I): it consumes
// from c, decodes each record's value into an *pb.SubscribeUpdate, and
// pushes the decoded value onto intake for the broadcaster to fan
// out. A decode failure is logged and the record is skipped, per
// §7's decode-error taxonomy; the loop itself only stops on ctx
// cancellation or the consumer's fatal sideband.
//
// Records are decoded as binary protobuf (proto.Unmarshal), matching
// the documented Kafka2Grpc wire format: payload is the raw
// protobuf-encoded Update, not protojson. This is distinct from the
// Transaction payload encoding ingest produces for Grpc2Kafka.
func FeedFromKafka(ctx context.Context, intake chan<- *pb.SubscribeUpdate, c consumer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.Fatal():
			return fmt.Errorf("fanout: consumer fatal error: %w", err)
		default:
		}

		msg, err := c.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fanout: receive failed: %w", err)
		}

		update := &pb.SubscribeUpdate{}
		if err := proto.Unmarshal(msg.Value, update); err != nil {
			log.WarnContext(ctx, "dropping undecodable kafka record", slog.Any("error", err))
			continue
		}

		select {
		case intake <- update:
		case <-ctx.Done():
			return nil
		}
	}
}
