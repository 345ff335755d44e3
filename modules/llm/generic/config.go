package generic

import (
	"fmt"
	"time"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/executor"
	"github.com/flemzord/rolegate/internal/security"
)

// Config holds the configuration of the llm.generic module.
type Config struct {
	// ProvidersDir holds the provider descriptors. Defaults to
	// <data_dir>/providers.
	ProvidersDir string `yaml:"providers_dir"`

	// DefaultProvider serves bare model references. Defaults to the first
	// descriptor by file name.
	DefaultProvider string `yaml:"default_provider"`

	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	URLFilter security.URLFilterConfig `yaml:"url_filter"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = adapter.DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = executor.DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = executor.DefaultBaseDelay
	}
}

func (c *Config) validate() error {
	if c.MaxRetries > 10 {
		return fmt.Errorf("llm.generic: max_retries %d exceeds 10", c.MaxRetries)
	}
	return nil
}
