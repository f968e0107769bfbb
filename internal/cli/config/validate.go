package config

import (
	"fmt"

	"github.com/nwdata/tablesync/internal/destination"
)

// Validate checks the loaded configuration for values that would make a
// run fail late or behave surprisingly.
func Validate(cfg *Config) error {
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.Destination != nil && cfg.Destination.Type != "" {
		name := destination.Normalize(cfg.Destination.Type)
		for _, available := range destination.Available() {
			if name == available {
				return nil
			}
		}
		return &destination.UnknownTypeError{
			Type:      cfg.Destination.Type,
			Available: destination.Available(),
		}
	}
	return nil
}
