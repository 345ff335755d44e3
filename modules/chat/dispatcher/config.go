package dispatcher

import (
	"errors"
	"net/url"
	"time"
)

// Config holds the configuration of the chat.dispatcher module.
type Config struct {
	// Window is the debounce window of a message burst.
	Window time.Duration `yaml:"window"`

	// OwnerUserID, when set, is the only user routed in groups.
	OwnerUserID int64  `yaml:"owner_user_id"`
	BotUsername string `yaml:"bot_username"`

	// RequireMention starts a burst only when the bot is mentioned.
	// Defaults to true when bot_username is set.
	RequireMention *bool `yaml:"require_mention"`

	// RateLimit bounds messages per user and minute. Zero disables it.
	RateLimit      int `yaml:"rate_limit"`
	MaxMessageSize int `yaml:"max_message_size"`

	Callback CallbackConfig `yaml:"callback"`
}

// CallbackConfig points outbound messages at a front-end webhook. Without
// a URL outbound messages are only logged.
type CallbackConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) requireMention() bool {
	if c.RequireMention != nil {
		return *c.RequireMention
	}
	return c.BotUsername != ""
}

func (c *Config) validate() error {
	if c.requireMention() && c.BotUsername == "" {
		return errors.New("chat.dispatcher: require_mention needs bot_username")
	}
	if c.RateLimit < 0 || c.MaxMessageSize < 0 {
		return errors.New("chat.dispatcher: limits must not be negative")
	}
	if c.Callback.URL != "" {
		u, err := url.Parse(c.Callback.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("chat.dispatcher: callback.url must be an http(s) URL")
		}
	}
	return nil
}
