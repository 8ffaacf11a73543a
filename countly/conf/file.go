package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/splitio/go-toolkit/v5/logging"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	CountlyConfig `yaml:",inline"`
	LogLevel      string `yaml:"log_level"`
}

var logLevels = map[string]int{
	"none":    logging.LevelNone,
	"error":   logging.LevelError,
	"warning": logging.LevelWarning,
	"info":    logging.LevelInfo,
	"debug":   logging.LevelDebug,
	"verbose": logging.LevelVerbose,
}

// LoadFile reads a YAML configuration file on top of the default configuration
// and normalizes the result
func LoadFile(filename string) (*CountlyConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of the default configuration and normalizes the result
func Parse(data []byte) (*CountlyConfig, error) {
	parsed := fileConfig{CountlyConfig: *Default()}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := parsed.CountlyConfig
	if parsed.LogLevel != "" {
		level, ok := logLevels[strings.ToLower(parsed.LogLevel)]
		if !ok {
			return nil, fmt.Errorf("unknown log_level %q", parsed.LogLevel)
		}
		cfg.LoggerConfig.LogLevel = level
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
