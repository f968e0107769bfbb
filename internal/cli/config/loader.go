package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Package-level koanf instance and config file tracking.
var (
	k              = koanf.New(".")
	configFileUsed string
)

// findConfigFile finds the config file to use.
// Priority: explicit path > tablesync.yaml > tablesync.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("tablesync.yaml"); err == nil {
		return "tablesync.yaml"
	}
	if _, err := os.Stat("tablesync.yml"); err == nil {
		return "tablesync.yml"
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// LoadConfig loads configuration from file, environment variables, and
// flags. Precedence (highest to lowest): flags > env vars > config file
// > defaults.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"source":              "",
		"batch_size":          DefaultBatchSize,
		"max_attempts":        DefaultMaxAttempts,
		"strict":              false,
		"warn_full_load_rows": 100000,
		"verbose":             false,
		"log_format":          DefaultLogFormat,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (TABLESYNC_ prefix)
	// Transform: TABLESYNC_BATCH_SIZE -> batch_size and
	// TABLESYNC_DESTINATION_TYPE -> destination.type
	if err := k.Load(env.Provider("TABLESYNC_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "TABLESYNC_"))
		if rest, ok := strings.CutPrefix(key, "destination_"); ok {
			return "destination." + rest
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			// Destination flags live under the destination.* namespace
			if rest, ok := strings.CutPrefix(key, "destination_"); ok {
				return "destination." + rest, posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Destination == nil {
		cfg.Destination = &DestinationConfig{}
	}

	// Legacy environment variable, kept for compatibility with existing
	// deployments that predate the TABLESYNC_ prefix.
	if cfg.Destination.Type == "" {
		cfg.Destination.Type = os.Getenv("DESTINATION_TYPE")
	}

	expandDestinationEnvVars(cfg.Destination)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// expandEnvVars expands ${VAR} patterns in a string with environment
// variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandDestinationEnvVars expands environment variables in sensitive
// destination fields.
func expandDestinationEnvVars(d *DestinationConfig) {
	if d == nil {
		return
	}
	d.Host = expandEnvVars(d.Host)
	d.User = expandEnvVars(d.User)
	d.Password = expandEnvVars(d.Password)
	d.AccessKey = expandEnvVars(d.AccessKey)
	d.SecretKey = expandEnvVars(d.SecretKey)
	d.Token = expandEnvVars(d.Token)
}
