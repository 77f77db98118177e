// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config loads the bridge's flat JSON configuration file and
// validates that the section required by the selected mode is present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Mode names accepted on the CLI and as config sections.
const (
	ModeGrpc2Kafka = "grpc2kafka"
	ModeKafka2Grpc = "kafka2grpc"
	ModeDedup      = "dedup"
)

// BackendConfig is the tagged union selecting a dedup backend
// implementation. Type is either "memory" or "redis".
type BackendConfig struct {
	Type string `json:"type"`

	// Memory backend fields.
	Size int `json:"size,omitempty"`

	// Redis backend fields.
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTLSecs  int    `json:"ttl_seconds,omitempty"`
}

// DedupConfig configures mode Dedup.
type DedupConfig struct {
	Kafka          map[string]string `json:"kafka,omitempty"`
	KafkaInput     string            `json:"kafka_input"`
	KafkaOutput    string            `json:"kafka_output"`
	KafkaQueueSize int               `json:"kafka_queue_size"`
	Backend        BackendConfig     `json:"backend"`
}

// Grpc2KafkaConfig configures mode Grpc2Kafka.
type Grpc2KafkaConfig struct {
	Kafka                 map[string]string `json:"kafka,omitempty"`
	Endpoint              string            `json:"endpoint"`
	XToken                string            `json:"x_token,omitempty"`
	Request               json.RawMessage   `json:"request,omitempty"`
	KafkaTopic            string            `json:"kafka_topic"`
	KafkaQueueSize        int               `json:"kafka_queue_size"`
	PublishNonTransaction bool              `json:"publish_non_transaction,omitempty"`
}

// Kafka2GrpcConfig configures mode Kafka2Grpc.
type Kafka2GrpcConfig struct {
	Kafka           map[string]string `json:"kafka,omitempty"`
	KafkaTopic      string            `json:"kafka_topic"`
	Listen          string            `json:"listen"`
	ChannelCapacity int               `json:"channel_capacity"`
}

// Config is the top-level JSON document. At least one of Dedup,
// Grpc2Kafka, or Kafka2Grpc must be set, matching the mode selected on
// the CLI.
type Config struct {
	Prometheus string            `json:"prometheus,omitempty"`
	Kafka      map[string]string `json:"kafka,omitempty"`

	Dedup      *DedupConfig      `json:"dedup,omitempty"`
	Grpc2Kafka *Grpc2KafkaConfig `json:"grpc2kafka,omitempty"`
	Kafka2Grpc *Kafka2GrpcConfig `json:"kafka2grpc,omitempty"`
}

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to open %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	return &cfg, nil
}

// ErrMissingSection is returned by [Config.Validate] when the section
// for the selected mode is absent.
type ErrMissingSection struct {
	Mode string
}

func (e ErrMissingSection) Error() string {
	return fmt.Sprintf("config: missing %q section for selected mode", e.Mode)
}

// Validate confirms the config section required by mode is present.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeDedup:
		if c.Dedup == nil {
			return ErrMissingSection{Mode: ModeDedup}
		}
	case ModeGrpc2Kafka:
		if c.Grpc2Kafka == nil {
			return ErrMissingSection{Mode: ModeGrpc2Kafka}
		}
	case ModeKafka2Grpc:
		if c.Kafka2Grpc == nil {
			return ErrMissingSection{Mode: ModeKafka2Grpc}
		}
	default:
		return fmt.Errorf("config: unknown mode %q", mode)
	}
	return nil
}

// MergedKafka returns the mode-specific kafka option overrides layered
// on top of the top-level kafka options, per §6's "kafka (overrides)"
// contract.
func MergedKafka(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
