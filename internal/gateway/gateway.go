package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports it.
type Gateway struct {
	config      Config
	appCtx      *core.AppContext
	logger      *slog.Logger
	server      *http.Server
	webhooks    *WebhookDispatcher
	authLimiter *security.RateLimiter
	startedAt   time.Time

	// Resolved at Start() via the service registry.
	service    *chat.Service
	registry   *provider.Registry
	dispatcher *chat.Dispatcher
	store      store.Store
	metrics    *telemetry.Metrics
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.webhooks = NewWebhookDispatcher(g.logger, g.config.MaxBodyBytes)
	g.authLimiter = newAuthLimiter(g.config)

	ctx.RegisterService("gateway.webhooks", g.webhooks)

	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway auth not configured, /api is disabled")
	}
	return nil
}

// newAuthLimiter returns nil when cfg sets no auth rate limit.
func newAuthLimiter(cfg Config) *security.RateLimiter {
	return security.NewRateLimiter(security.RateLimitConfig{MessagesPerMin: cfg.AuthRateLimit})
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// resolveServices binds the services published by the modules loaded
// before the gateway. The chat service and the provider registry are
// required; the rest degrade gracefully.
func (g *Gateway) resolveServices() error {
	var err error
	if g.service, err = core.Service[*chat.Service](g.appCtx, "chat.service"); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if g.registry, err = core.Service[*provider.Registry](g.appCtx, "provider.registry"); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if d, err := core.Service[*chat.Dispatcher](g.appCtx, "chat.dispatcher"); err == nil {
		g.dispatcher = d
	}
	if s, err := core.Service[store.Store](g.appCtx, store.ServiceName); err == nil {
		g.store = s
	}
	if m, err := core.Service[*telemetry.Metrics](g.appCtx, "telemetry.metrics"); err == nil {
		g.metrics = m
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.resolveServices(); err != nil {
		return err
	}
	if g.dispatcher != nil {
		g.webhooks.Register("chat", inboundHandler{dispatcher: g.dispatcher}, g.config.Webhooks["chat"].Secret)
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
