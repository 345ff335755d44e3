// Package executor wraps message sends with bounded, linearly backed-off
// retries.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
)

// DefaultMaxRetries is the number of additional attempts after the first.
const DefaultMaxRetries = 2

// DefaultBaseDelay is the backoff unit: attempt n waits n times this value.
const DefaultBaseDelay = 500 * time.Millisecond

// Sender is the adapter surface the executor drives.
type Sender interface {
	SendMessage(ctx context.Context, sessionID, token, content, ref string, roleID *int64) (string, error)
	ProviderIDFor(ref string) string
}

// Config holds the configuration for an Executor.
type Config struct {
	Sender    Sender
	BaseDelay time.Duration
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Executor sends messages with retries.
type Executor struct {
	sender    Sender
	baseDelay time.Duration
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		sender:    cfg.Sender,
		baseDelay: cfg.BaseDelay,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// SendWithRetries sends content and retries failures up to maxRetries more
// times. The model is modelRef when set, else the role's model. A 404 stops
// retrying at once so the caller can recover the session. The last error is
// returned unchanged.
func (e *Executor) SendWithRetries(ctx context.Context, sessionID, token, content string, role store.Role, modelRef string, maxRetries int) (string, error) {
	ref := modelRef
	if ref == "" {
		ref = role.Model
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	roleID := role.ID
	providerID := e.sender.ProviderIDFor(ref)

	attempt := 0
	op := func() (string, error) {
		attempt++
		text, err := e.sender.SendMessage(ctx, sessionID, token, content, ref, &roleID)
		switch {
		case err == nil:
			return text, nil
		case adapter.IsNotFound(err):
			return "", backoff.Permanent(err)
		case isMissingField(err):
			return "", backoff.Permanent(err)
		default:
			return "", err
		}
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.IncRetry(providerID)
		e.logger.Warn("send failed, retrying",
			"provider", providerID,
			"session_id", sessionID,
			"attempt", attempt,
			"max_retries", maxRetries,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&LinearBackOff{Base: e.baseDelay}, uint64(maxRetries)),
		ctx,
	)
	return backoff.RetryNotifyWithData[string](op, b, notify)
}

func isMissingField(err error) bool {
	_, ok := adapter.AsMissingUserField(err)
	return ok
}

// LinearBackOff waits Base multiplied by the retry number: Base, 2*Base, ...
type LinearBackOff struct {
	Base    time.Duration
	attempt int
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.Base
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() { b.attempt = 0 }
