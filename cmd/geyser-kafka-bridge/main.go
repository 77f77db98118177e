// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command geyser-kafka-bridge runs one of the three bridge modes —
// grpc2kafka, kafka2grpc, dedup — wiring config, logging, metrics,
// health, and shutdown the same way across all three.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/solanabridge/geyser-kafka-bridge/config"
	"github.com/solanabridge/geyser-kafka-bridge/dedup"
	"github.com/solanabridge/geyser-kafka-bridge/dedupstage"
	"github.com/solanabridge/geyser-kafka-bridge/fanout"
	"github.com/solanabridge/geyser-kafka-bridge/health"
	"github.com/solanabridge/geyser-kafka-bridge/healthsrv"
	"github.com/solanabridge/geyser-kafka-bridge/ingest"
	"github.com/solanabridge/geyser-kafka-bridge/kafka"
	"github.com/solanabridge/geyser-kafka-bridge/metrics"
	"github.com/solanabridge/geyser-kafka-bridge/obslog"
	"github.com/solanabridge/geyser-kafka-bridge/publish"
	"github.com/solanabridge/geyser-kafka-bridge/shutdown"
)

// cli is the root command, parsed by kong. grpc2kafka is the default
// subcommand, matching §6's stated default mode.
type cli struct {
	Config     string `short:"c" name:"config" required:"true" help:"Path to the bridge's JSON config file."`
	Prometheus string `name:"prometheus" help:"Address to serve Prometheus metrics on, overriding the config's \"prometheus\" field."`
	LogLevel   string `name:"log-level" env:"RUST_LOG" help:"RUST_LOG-style log level directive."`
	Health     string `name:"health" default:"127.0.0.1:8080" help:"Address to serve the HTTP health endpoint on."`

	Grpc2Kafka grpc2KafkaCmd `cmd:"" name:"grpc2kafka" default:"1" help:"Ingest a Geyser gRPC stream and publish it to Kafka."`
	Kafka2Grpc kafka2GrpcCmd `cmd:"" name:"kafka2grpc" help:"Consume Kafka and serve a Geyser-shaped gRPC fan-out."`
	Dedup      dedupCmd      `cmd:"" name:"dedup" help:"Consume Kafka, drop duplicates by slot+hash, and republish."`
}

type grpc2KafkaCmd struct{}
type kafka2GrpcCmd struct{}
type dedupCmd struct{}

func main() {
	var c cli
	ktx := kong.Parse(&c, kong.Name("geyser-kafka-bridge"),
		kong.Description("Bridges Solana Geyser gRPC updates and Kafka."))

	mode := ktx.Command()

	if err := run(&c, mode); err != nil {
		slog.Error("geyser-kafka-bridge exited with an error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(c *cli, mode string) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(mode); err != nil {
		return err
	}

	log := obslog.New(c.LogLevel, obslog.Options{Name: "geyser-kafka-bridge"})

	reg := metrics.New()
	promAddr := cfg.Prometheus
	if c.Prometheus != "" {
		promAddr = c.Prometheus
	}

	coord := shutdown.New(context.Background())
	defer coord.Stop()

	// A loop's own fatal error (producer-fatal sideband, unrecoverable
	// consumer error) must end the process immediately rather than
	// waiting for a termination signal, so every loop shares a context
	// that run() also cancels the first time any of them fails.
	ctx, cancel := context.WithCancel(coord.Context())
	defer cancel()

	monitor := &health.Binary{}
	healthSrv, err := healthsrv.New(c.Health, monitor)
	if err != nil {
		return fmt.Errorf("bind health server: %w", err)
	}

	group := newRunGroup(cancel)
	if promAddr != "" {
		group.spawn(func() error { return reg.Serve(ctx, promAddr) })
	}
	group.spawn(func() error { return healthSrv.Run(ctx) })

	switch mode {
	case config.ModeGrpc2Kafka:
		if err := runGrpc2Kafka(ctx, cfg.Grpc2Kafka, config.MergedKafka(cfg.Kafka, cfg.Grpc2Kafka.Kafka), reg, log, group); err != nil {
			return err
		}
	case config.ModeKafka2Grpc:
		if err := runKafka2Grpc(ctx, cfg.Kafka2Grpc, config.MergedKafka(cfg.Kafka, cfg.Kafka2Grpc.Kafka), reg, log, group); err != nil {
			return err
		}
	case config.ModeDedup:
		if err := runDedup(ctx, cfg.Dedup, config.MergedKafka(cfg.Kafka, cfg.Dedup.Kafka), reg, log, group); err != nil {
			return err
		}
	}

	monitor.MarkHealthy()
	go func() {
		<-ctx.Done()
		monitor.MarkUnhealthy()
	}()

	return group.wait()
}

func runGrpc2Kafka(ctx context.Context, c *config.Grpc2KafkaConfig, kafkaOpts map[string]string, reg *metrics.Registry, log *slog.Logger, group *runGroup) error {
	brokers := brokersFromOpts(kafkaOpts)

	producer, err := kafka.NewProducer(brokers, kafkaOpts, log)
	if err != nil {
		return fmt.Errorf("build kafka producer: %w", err)
	}

	sched := publish.NewScheduler(ctx, producer, c.KafkaQueueSize, reg, log)

	runner := ingest.NewRunner(ingest.Config{
		Endpoints:             strings.Split(c.Endpoint, ","),
		XToken:                c.XToken,
		Request:               c.Request,
		Topic:                 c.KafkaTopic,
		QueueSize:             c.KafkaQueueSize,
		PublishNonTransaction: c.PublishNonTransaction,
	}, sched, producer.Fatal(), reg, log)

	group.spawn(func() error {
		defer producer.Close()
		err := runner.Run(ctx)
		if drainErr := sched.Drain(); drainErr != nil && err == nil {
			err = drainErr
		}
		return err
	})
	return nil
}

func runKafka2Grpc(ctx context.Context, c *config.Kafka2GrpcConfig, kafkaOpts map[string]string, reg *metrics.Registry, log *slog.Logger, group *runGroup) error {
	brokers := brokersFromOpts(kafkaOpts)

	consumer, err := kafka.NewConsumer(brokers, "geyser-kafka-bridge-k2g", kafkaOpts, log)
	if err != nil {
		return fmt.Errorf("build kafka consumer: %w", err)
	}
	consumer.Subscribe(c.KafkaTopic)

	srv := fanout.New(fanout.Config{Addr: c.Listen, ChannelCapacity: c.ChannelCapacity}, log)
	intake, err := srv.Run(ctx)
	if err != nil {
		return fmt.Errorf("start fanout server: %w", err)
	}

	group.spawn(func() error {
		defer consumer.Close()
		return fanout.FeedFromKafka(ctx, intake, consumer, log)
	})
	return nil
}

func runDedup(ctx context.Context, c *config.DedupConfig, kafkaOpts map[string]string, reg *metrics.Registry, log *slog.Logger, group *runGroup) error {
	brokers := brokersFromOpts(kafkaOpts)

	producer, err := kafka.NewProducer(brokers, kafkaOpts, log)
	if err != nil {
		return fmt.Errorf("build kafka producer: %w", err)
	}

	consumer, err := kafka.NewConsumer(brokers, "geyser-kafka-bridge-dedup", kafkaOpts, log)
	if err != nil {
		return fmt.Errorf("build kafka consumer: %w", err)
	}
	consumer.Subscribe(c.KafkaInput)

	backend, err := dedup.NewFromConfig(c.Backend)
	if err != nil {
		return fmt.Errorf("build dedup backend: %w", err)
	}

	sched := publish.NewScheduler(ctx, producer, c.KafkaQueueSize, reg, log)

	runner := dedupstage.NewRunner(dedupstage.Config{OutputTopic: c.KafkaOutput}, consumer, backend, sched, producer.Fatal(), reg, log)

	group.spawn(func() error {
		defer producer.Close()
		defer consumer.Close()
		defer backend.Close()
		err := runner.Run(ctx)
		if drainErr := sched.Drain(); drainErr != nil && err == nil {
			err = drainErr
		}
		return err
	})
	return nil
}

// brokersFromOpts extracts the comma-separated "bootstrap.servers"
// value from a flat kafka option map, matching the original's
// permissive pass-through config shape.
func brokersFromOpts(opts map[string]string) []string {
	return strings.Split(opts["bootstrap.servers"], ",")
}
