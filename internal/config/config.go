// Package config loads the leafdb command line configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file format.
type Config struct {
	Dir      string `yaml:"dir" json:"dir" jsonschema:"description=Directory holding the store log file"`
	Name     string `yaml:"name" json:"name" jsonschema:"description=Store name; the log file is <dir>/<name>.jsonl"`
	Strict   bool   `yaml:"strict,omitempty" json:"strict,omitempty" jsonschema:"description=Fail on the first corrupt log line or invalid document in a batch"`
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info,description=Log level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Dir: ".", Name: "leafdb", LogLevel: "info"}
}

// Load reads the configuration file at path on top of the defaults.
//
// Unknown keys are rejected. An empty file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration file on top of the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if filepath.Base(c.Name) != c.Name {
		return fmt.Errorf("name %q must not contain a path separator", c.Name)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level for LogLevel. Empty means info.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
}

// Schema returns the JSON Schema of the configuration file.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.Reflect(&Config{})
}
