// Package config loads the pipeline configuration from the environment
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/jzx17/triageflow/internal/logging"
	"github.com/jzx17/triageflow/internal/retry"
	"github.com/jzx17/triageflow/pkg/pipeline"
	"github.com/jzx17/triageflow/pkg/stage"
)

// Config holds all application configuration.
type Config struct {
	Pipeline PipelineConfig
	Logging  LogConfig
	Run      RunConfig
}

// PipelineConfig describes the stages and their queues.
type PipelineConfig struct {
	BufferCapacity  int           `envconfig:"TRIAGE_BUFFER_CAPACITY" default:"20"`
	SinkCapacity    int           `envconfig:"TRIAGE_SINK_CAPACITY" default:"500"`
	LogPath         string        `envconfig:"TRIAGE_LOG_PATH" default:"log.txt"`
	SyncWrites      bool          `envconfig:"TRIAGE_SYNC_WRITES" default:"false"`
	Producers       []string      `envconfig:"TRIAGE_PRODUCERS" default:"P001,P002"`
	Source          string        `envconfig:"TRIAGE_SOURCE" default:"clinicA"`
	Owners          []string      `envconfig:"TRIAGE_OWNERS" default:"doc1"`
	ProduceInterval time.Duration `envconfig:"TRIAGE_PRODUCE_INTERVAL" default:"700ms"`
	ProduceBurst    int           `envconfig:"TRIAGE_PRODUCE_BURST" default:"1"`
	MaxItems        int           `envconfig:"TRIAGE_MAX_ITEMS" default:"0"`
	OpenAttempts    int           `envconfig:"TRIAGE_OPEN_ATTEMPTS" default:"4"`
	OpenBackoff     time.Duration `envconfig:"TRIAGE_OPEN_BACKOFF" default:"50ms"`
	OpenMaxBackoff  time.Duration `envconfig:"TRIAGE_OPEN_MAX_BACKOFF" default:"1s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RunConfig controls how long the demo runs and how it stops.
type RunConfig struct {
	Duration        time.Duration `envconfig:"TRIAGE_RUN_DURATION" default:"20s"`
	ShutdownTimeout time.Duration `envconfig:"TRIAGE_SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			BufferCapacity:  20,
			SinkCapacity:    500,
			LogPath:         "log.txt",
			Producers:       []string{"P001", "P002"},
			Source:          "clinicA",
			Owners:          []string{"doc1"},
			ProduceInterval: 700 * time.Millisecond,
			ProduceBurst:    1,
			OpenAttempts:    4,
			OpenBackoff:     50 * time.Millisecond,
			OpenMaxBackoff:  time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Run: RunConfig{
			Duration:        20 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Topology converts the pipeline section into an orchestrator topology.
// One producer is created per configured producer id.
func (c *Config) Topology() pipeline.Topology {
	p := c.Pipeline

	producers := make([]stage.ProducerConfig, 0, len(p.Producers))
	for _, id := range p.Producers {
		producers = append(producers, stage.ProducerConfig{
			OriginID: id,
			SourceID: p.Source,
			Interval: p.ProduceInterval,
			Burst:    p.ProduceBurst,
			MaxItems: p.MaxItems,
		})
	}

	return pipeline.Topology{
		BufferCapacity: p.BufferCapacity,
		SinkCapacity:   p.SinkCapacity,
		LogPath:        p.LogPath,
		SyncWrites:     p.SyncWrites,
		Owners:         append([]string(nil), p.Owners...),
		Producers:      producers,
	}
}

// OpenRetry returns the backoff used while opening the durable log
func (c *Config) OpenRetry() retry.Policy {
	attempts := c.Pipeline.OpenAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.NewExponentialBackoff(attempts, c.Pipeline.OpenBackoff, c.Pipeline.OpenMaxBackoff, retry.WithJitter(0.1))
}

// LoggerConfig returns the logging section as a logging.Config
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Development = c.Logging.Development
	return lc
}
