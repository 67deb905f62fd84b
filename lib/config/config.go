// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the pipeline
// daemon.
//
// Configuration is loaded from a single file specified by:
//   - BFPIPE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings
// like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	// Library configures the source asset library.
	Library LibraryConfig `yaml:"library"`

	// Output configures where compiled containers land.
	Output OutputConfig `yaml:"output"`

	// Compile configures the build scheduler.
	Compile CompileConfig `yaml:"compile"`

	// Watch configures filesystem watching.
	Watch WatchConfig `yaml:"watch"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// LibraryConfig configures the source asset library.
type LibraryConfig struct {
	// Root is the directory holding source assets. Source paths are
	// stored relative to it, so moving the library does not change
	// asset identities.
	Root string `yaml:"root"`
}

// OutputConfig configures build outputs.
type OutputConfig struct {
	// Dir is where compiled containers are written.
	// Default: ${LIBRARY_ROOT}/.bfpipe/out
	Dir string `yaml:"dir"`

	// Database is the fingerprint store path.
	// Default: ${LIBRARY_ROOT}/.bfpipe/pipeline.db
	Database string `yaml:"database"`
}

// CompileConfig configures the build scheduler.
type CompileConfig struct {
	// Workers is the number of concurrent compile jobs. Zero means
	// one per CPU, minimum two.
	Workers int `yaml:"workers"`

	// Timeout bounds a single compiler invocation. Zero disables
	// the bound.
	// Default: 2m
	Timeout Duration `yaml:"timeout"`
}

// WatchConfig configures filesystem watching.
type WatchConfig struct {
	// Enabled turns on the library watcher. When false the daemon
	// compiles the bootstrap backlog and then only reacts to
	// explicit rescans.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Debounce is how long a path must stay quiet before its change
	// is acted on.
	// Default: 250ms
	Debounce Duration `yaml:"debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are a
// base merged under the loaded file, not a substitute for it: the
// config file is required and must name the library root.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:      "${LIBRARY_ROOT}/.bfpipe/out",
			Database: "${LIBRARY_ROOT}/.bfpipe/pipeline.db",
		},
		Compile: CompileConfig{
			Timeout: Duration(2 * time.Minute),
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(250 * time.Millisecond),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the BFPIPE_CONFIG environment
// variable. There are no fallbacks: if BFPIPE_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	path := os.Getenv("BFPIPE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BFPIPE_CONFIG environment variable not set; " +
			"set it to the path of your bfpipe.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values. The only expansion
// performed is ${HOME} and ${LIBRARY_ROOT} in paths for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Library.Root = expandVars(c.Library.Root, vars)
	vars["LIBRARY_ROOT"] = c.Library.Root

	c.Output.Dir = expandVars(c.Output.Dir, vars)
	c.Output.Database = expandVars(c.Output.Database, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Library.Root == "" {
		errs = append(errs, fmt.Errorf("library.root is required"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, fmt.Errorf("output.dir is required"))
	}
	if c.Output.Database == "" {
		errs = append(errs, fmt.Errorf("output.database is required"))
	}
	if c.Compile.Workers < 0 {
		errs = append(errs, fmt.Errorf("compile.workers must not be negative"))
	}
	if c.Compile.Timeout < 0 {
		errs = append(errs, fmt.Errorf("compile.timeout must not be negative"))
	}
	if c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the output directories if they don't exist.
// The library root is deliberately not created: a missing library is
// a configuration mistake, not something to paper over.
func (c *Config) EnsurePaths() error {
	if _, err := os.Stat(c.Library.Root); err != nil {
		return fmt.Errorf("library root: %w", err)
	}
	for _, path := range []string{c.Output.Dir, filepath.Dir(c.Output.Database)} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
