// Package config provides configuration management for the tablesync CLI.
//
// Settings are merged from defaults, an optional YAML file, environment
// variables, and command-line flags, in increasing priority.
package config

import (
	"time"

	"github.com/nwdata/tablesync/internal/destination"
)

// DestinationConfig is an alias for the shared destination configuration,
// so CLI code does not import internal/destination directly.
type DestinationConfig = destination.Config

// Config holds all CLI configuration options.
type Config struct {
	SourcePath       string             `koanf:"source"`
	BatchSize        int                `koanf:"batch_size"`
	MaxAttempts      int                `koanf:"max_attempts"`
	RetryBaseDelay   time.Duration      `koanf:"retry_base_delay"`
	BatchTimeout     time.Duration      `koanf:"batch_timeout"`
	Strict           bool               `koanf:"strict"`
	WarnFullLoadRows int64              `koanf:"warn_full_load_rows"`
	UpdateColumns    []string           `koanf:"update_columns"`
	Verbose          bool               `koanf:"verbose"`
	LogFormat        string             `koanf:"log_format"`
	Destination      *DestinationConfig `koanf:"destination"`
}

// Default configuration values.
const (
	DefaultBatchSize   = 500
	DefaultMaxAttempts = 3
	DefaultLogFormat   = "text"
)
