// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for rolegate.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is the root directory for persistent data. Defaults to
	// $XDG_DATA_HOME/rolegate (or ~/.local/share/rolegate) when empty.
	DataDir string `yaml:"data_dir,omitempty"`

	// Log controls the process logger.
	Log LogConfig `yaml:"log,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig selects the process log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format,omitempty"`

	// RedactPatterns are extra regular expressions whose matches are
	// scrubbed from log output, on top of the built-in credential formats.
	RedactPatterns []string `yaml:"redact_patterns,omitempty"`
}
