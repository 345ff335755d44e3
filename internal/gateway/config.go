package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind     string                      `yaml:"bind"`
	Auth     AuthConfig                  `yaml:"auth"`
	Webhooks map[string]WebhookSourceCfg `yaml:"webhooks"`

	// AuthRateLimit bounds authentication attempts per minute across all
	// clients. Zero disables the limit.
	AuthRateLimit int `yaml:"auth_rate_limit"`

	// MaxBodyBytes caps JSON request bodies on /api and /webhooks.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout must outlast a provider send, which can take minutes.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 11 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for /api endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	// BearerTokens are accepted alongside BearerToken, for rotation.
	BearerTokens []string `yaml:"bearer_tokens"`
	BasicUser    string   `yaml:"basic_user"`
	BasicPass    string   `yaml:"basic_pass"`
}

func (a AuthConfig) tokens() []string {
	var out []string
	for _, t := range append([]string{a.BearerToken}, a.BearerTokens...) {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IsConfigured reports whether any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return len(a.tokens()) > 0 || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg holds per-source webhook configuration.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret"`
}
