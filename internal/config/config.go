// Package config loads h2trace settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/mrzor/h2trace/internal/emitter"
	"github.com/mrzor/h2trace/internal/tcpseq"
)

// EnvPrefix prefixes every h2trace variable.
const EnvPrefix = "H2TRACE_"

// Config holds the pipeline and tool settings.
type Config struct {
	// OffsetsFile is a YAML offset table. Built-in defaults apply without it.
	OffsetsFile string `env:"OFFSETS_FILE"`
	// FieldLimit caps the fields emitted per header collection.
	FieldLimit int `env:"FIELD_LIMIT" envDefault:"9"`
	// Capacity is the scratch size a field record must fit in.
	Capacity int `env:"SCRATCH_CAPACITY" envDefault:"1024"`
	// CorrelatorEntries sizes the in-process TCP sequence table.
	CorrelatorEntries int `env:"CORRELATOR_ENTRIES" envDefault:"10240"`
	// SocketIDSeed is the value the socket id counter starts from.
	SocketIDSeed uint64 `env:"SOCKET_ID_SEED" envDefault:"0"`
	// ProcRoot is the proc mount used for socket and process lookups.
	ProcRoot string `env:"PROC_ROOT" envDefault:"/proc"`
	// PinDir holds the maps published by a kernel-side probe host.
	PinDir string `env:"PIN_DIR" envDefault:"/sys/fs/bpf/h2trace"`

	Log  LogConfig  `envPrefix:"LOG_"`
	OTEL OTELConfig `envPrefix:"OTEL_"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"7"`
	Compress   bool   `env:"COMPRESS" envDefault:"false"`
}

// Load parses the environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.FieldLimit <= 0 {
		return fmt.Errorf("field limit must be positive, got %d", c.FieldLimit)
	}
	if c.Capacity <= 16 {
		return fmt.Errorf("scratch capacity must exceed the 16-byte field header, got %d", c.Capacity)
	}
	if c.CorrelatorEntries <= 0 {
		return fmt.Errorf("correlator entries must be positive, got %d", c.CorrelatorEntries)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// EmitterOptions returns the emitter settings.
func (c *Config) EmitterOptions() []emitter.Option {
	return []emitter.Option{
		emitter.WithFieldLimit(c.FieldLimit),
		emitter.WithCapacity(c.Capacity),
	}
}

// NewCorrelator returns the in-process TCP sequence table.
func (c *Config) NewCorrelator() (*tcpseq.Table, error) {
	return tcpseq.NewTable(c.CorrelatorEntries)
}
