// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the closure run configuration.
//
// Values are resolved in layers, later layers winning:
//
//  1. Defaults (Default)
//  2. A YAML file, when a path is given
//  3. CLOSURE_* environment variables (see EnvVars)
//  4. Overrides supplied by the caller (command-line flags)
//
// The result is validated with struct tags and then cross-field rules.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianClosure/pkg/logging"
	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/telemetry"
)

// MaxConfigFileSize bounds the YAML file read by Load.
const MaxConfigFileSize = 1024 * 1024

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Scheduling orders.
const (
	OrderBasic    = "basic"
	OrderPriority = "priority"
)

// Config is the full run configuration.
type Config struct {
	Dataset   DatasetConfig   `yaml:"dataset"`
	Engine    EngineConfig    `yaml:"engine"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatasetConfig locates the partitioned graph.
type DatasetConfig struct {
	// Base is the path prefix of every dataset file. Commands that read
	// the dataset check it with RequireDataset.
	Base string `yaml:"base"`

	// NumPartitions, when non-zero, must match the allocation table.
	NumPartitions int `yaml:"num_partitions" validate:"min=0"`

	// FirstVertexID is the smallest source vertex of partition 0.
	FirstVertexID int32 `yaml:"first_vertex_id" validate:"min=0"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	Workers          int           `yaml:"workers" validate:"min=0,max=4096"`
	ChunkDivisor     int           `yaml:"chunk_divisor" validate:"min=0"`
	WaitLogInterval  time.Duration `yaml:"wait_log_interval" validate:"min=0"`
	ResidencyTimeout time.Duration `yaml:"residency_timeout" validate:"min=0"`
	FailureMode      string        `yaml:"failure_mode" validate:"oneof=skip fail"`
	LocalTermination bool          `yaml:"local_termination"`
}

// KernelConfig selects the grammar. An empty GrammarFile uses the built-in
// transitive closure grammar.
type KernelConfig struct {
	GrammarFile string `yaml:"grammar_file"`
}

// SchedulerConfig chooses the pair order and whether progress is journaled.
type SchedulerConfig struct {
	Order   string `yaml:"order" validate:"oneof=basic priority"`
	Journal bool   `yaml:"journal"`
}

// StorageConfig controls persistence of results and progress.
type StorageConfig struct {
	// Path is the badger directory for the edge store and journal.
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`

	// EdgeStore records every derived edge in badger.
	EdgeStore bool `yaml:"edge_store"`

	// WriteBack appends derived edges to the partition files.
	WriteBack bool `yaml:"write_back"`
}

// TelemetryConfig selects exporters and the status listener.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	Environment    string `yaml:"environment"`

	// StatusAddr is the listen address of the status server. Empty
	// disables it.
	StatusAddr string `yaml:"status_addr" validate:"omitempty,hostname_port"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
}

// Default returns the built-in configuration. Dataset.Base has no default.
func Default() Config {
	eng := engine.DefaultConfig()
	tel := telemetry.DefaultConfig()
	return Config{
		Engine: EngineConfig{
			ChunkDivisor:     eng.ChunkDivisor,
			WaitLogInterval:  eng.WaitLogInterval,
			FailureMode:      string(eng.FailureMode),
			LocalTermination: eng.LocalTermination,
		},
		Scheduler: SchedulerConfig{Order: OrderBasic, Journal: true},
		Storage: StorageConfig{
			Path:       ".closure",
			SyncWrites: true,
			EdgeStore:  true,
			WriteBack:  true,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  tel.TraceExporter,
			MetricExporter: tel.MetricExporter,
			OTLPEndpoint:   tel.OTLPEndpoint,
			Environment:    tel.Environment,
			StatusAddr:     "127.0.0.1:9464",
		},
		Logging: LoggingConfig{Level: "info", Format: string(logging.FormatAuto)},
	}
}

// Override adjusts a loaded config before validation. The CLI uses it for
// flags, which beat every other layer.
type Override func(*Config)

// Load resolves the configuration from path (optional), the process
// environment and overrides.
func Load(path string, overrides ...Override) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv, overrides...)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool), overrides ...Override) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// decode overlays data onto cfg. Unknown keys are rejected.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	needsDB := c.Storage.EdgeStore || c.Scheduler.Journal
	if needsDB && !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required when edge_store or journal is enabled", ErrInvalidConfig)
	}
	if c.Scheduler.Journal && c.Storage.InMemory {
		return fmt.Errorf("%w: scheduler.journal needs persistent storage", ErrInvalidConfig)
	}
	if c.Telemetry.MetricExporter == telemetry.ExporterPrometheus && c.Telemetry.StatusAddr == "" {
		return fmt.Errorf("%w: prometheus metrics need telemetry.status_addr", ErrInvalidConfig)
	}
	return nil
}

// RequireDataset reports an error when no dataset is configured.
func (c *Config) RequireDataset() error {
	if c.Dataset.Base == "" {
		return fmt.Errorf("%w: dataset.base is required (set it in the config file, CLOSURE_DATASET_BASE or --dataset)", ErrInvalidConfig)
	}
	return nil
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Workers:          c.Engine.Workers,
		ChunkDivisor:     c.Engine.ChunkDivisor,
		WaitLogInterval:  c.Engine.WaitLogInterval,
		ResidencyTimeout: c.Engine.ResidencyTimeout,
		FailureMode:      engine.FailureMode(c.Engine.FailureMode),
		LocalTermination: c.Engine.LocalTermination,
	}
}

// BadgerConfig converts the storage section.
func (c *Config) BadgerConfig() badger.Config {
	if c.Storage.InMemory {
		return badger.InMemoryConfig()
	}
	cfg := badger.DefaultConfig()
	cfg.Path = c.Storage.Path
	cfg.SyncWrites = c.Storage.SyncWrites
	return cfg
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.TraceExporter = c.Telemetry.TraceExporter
	cfg.MetricExporter = c.Telemetry.MetricExporter
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	if c.Telemetry.Environment != "" {
		cfg.Environment = c.Telemetry.Environment
	}
	return cfg
}

// LoggingConfig converts the logging section. Level was validated.
func (c *Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		Format:  logging.Format(c.Logging.Format),
	}
}

// envVar binds one environment variable to a config field.
type envVar struct {
	name string
	set  func(c *Config, v string) error
}

// EnvVars lists the recognized environment variables.
func EnvVars() []string {
	names := make([]string, len(envVars))
	for i, ev := range envVars {
		names[i] = ev.name
	}
	return names
}

var envVars = []envVar{
	{"CLOSURE_DATASET_BASE", func(c *Config, v string) error { c.Dataset.Base = v; return nil }},
	{"CLOSURE_NUM_PARTITIONS", intVar(func(c *Config) *int { return &c.Dataset.NumPartitions })},
	{"CLOSURE_FIRST_VERTEX_ID", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		c.Dataset.FirstVertexID = int32(n)
		return err
	}},
	{"CLOSURE_WORKERS", intVar(func(c *Config) *int { return &c.Engine.Workers })},
	{"CLOSURE_CHUNK_DIVISOR", intVar(func(c *Config) *int { return &c.Engine.ChunkDivisor })},
	{"CLOSURE_WAIT_LOG_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Engine.WaitLogInterval })},
	{"CLOSURE_RESIDENCY_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Engine.ResidencyTimeout })},
	{"CLOSURE_FAILURE_MODE", func(c *Config, v string) error { c.Engine.FailureMode = v; return nil }},
	{"CLOSURE_LOCAL_TERMINATION", boolVar(func(c *Config) *bool { return &c.Engine.LocalTermination })},
	{"CLOSURE_GRAMMAR_FILE", func(c *Config, v string) error { c.Kernel.GrammarFile = v; return nil }},
	{"CLOSURE_SCHEDULER", func(c *Config, v string) error { c.Scheduler.Order = v; return nil }},
	{"CLOSURE_JOURNAL", boolVar(func(c *Config) *bool { return &c.Scheduler.Journal })},
	{"CLOSURE_STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"CLOSURE_STORAGE_IN_MEMORY", boolVar(func(c *Config) *bool { return &c.Storage.InMemory })},
	{"CLOSURE_EDGE_STORE", boolVar(func(c *Config) *bool { return &c.Storage.EdgeStore })},
	{"CLOSURE_WRITE_BACK", boolVar(func(c *Config) *bool { return &c.Storage.WriteBack })},
	{"CLOSURE_TRACE_EXPORTER", func(c *Config, v string) error { c.Telemetry.TraceExporter = v; return nil }},
	{"CLOSURE_METRIC_EXPORTER", func(c *Config, v string) error { c.Telemetry.MetricExporter = v; return nil }},
	{"CLOSURE_OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
	{"CLOSURE_STATUS_ADDR", func(c *Config, v string) error { c.Telemetry.StatusAddr = v; return nil }},
	{"CLOSURE_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"CLOSURE_LOG_DIR", func(c *Config, v string) error { c.Logging.Dir = v; return nil }},
	{"CLOSURE_LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = strings.ToLower(v); return nil }},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, ev.name, v, err)
		}
	}
	return nil
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
