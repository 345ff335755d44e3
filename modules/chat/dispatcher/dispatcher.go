// Package dispatcher implements the chat.dispatcher module: it debounces
// inbound chat messages and routes each burst to the addressed roles.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/rolegate/internal/buffer"
	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// ServiceName is the service under which the dispatcher is published.
const ServiceName = "chat.dispatcher"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// Module owns the chat.Dispatcher.
type Module struct {
	config     Config
	logger     *slog.Logger
	dispatcher *chat.Dispatcher
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "chat.dispatcher",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	svc, err := core.Service[*chat.Service](ctx, "chat.service")
	if err != nil {
		return fmt.Errorf("chat.dispatcher: %w", err)
	}
	metrics, _ := core.Service[*telemetry.Metrics](ctx, "telemetry.metrics")

	cfg := chat.DispatcherConfig{
		Service:        svc,
		Buffer:         buffer.New(buffer.Config{Window: m.config.Window, Metrics: metrics}),
		OwnerUserID:    m.config.OwnerUserID,
		BotUsername:    m.config.BotUsername,
		RequireMention: m.config.requireMention(),
		RateLimiter:    security.NewRateLimiter(security.RateLimitConfig{MessagesPerMin: m.config.RateLimit}),
		MaxMessageSize: m.config.MaxMessageSize,
		Logger:         m.logger,
	}
	if st, err := core.Service[store.Store](ctx, store.ServiceName); err == nil {
		cfg.Groups = st
	}
	cfg.Sender = m.sender()

	m.dispatcher = chat.NewDispatcher(cfg)
	ctx.RegisterService(ServiceName, m.dispatcher)
	return nil
}

func (m *Module) sender() chat.Sender {
	if cb := m.config.Callback; cb.URL != "" {
		return chat.NewWebhookSender(cb.URL, cb.Secret, cb.Timeout)
	}
	return chat.LogSender{Logger: m.logger}
}

// Reload implements core.Reloader. Only the callback settings take effect
// without a restart.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig("chat.dispatcher")
	if !ok || m.dispatcher == nil {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("chat.dispatcher: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}
	m.config.Callback = next.Callback
	m.dispatcher.SetSender(m.sender())
	m.logger.Info("callback reloaded", "url", next.Callback.URL)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper. Pending bursts are dropped and running
// flushes get until ctx ends.
func (m *Module) Stop(ctx context.Context) error {
	if m.dispatcher == nil {
		return nil
	}
	m.logger.Info("dispatcher stopping")
	return m.dispatcher.Stop(ctx)
}

// Dispatcher returns the dispatcher built during Provision.
func (m *Module) Dispatcher() *chat.Dispatcher { return m.dispatcher }
