// Package generic implements the llm.generic module. It loads the
// declarative provider descriptors and publishes the chat service built
// on top of them.
package generic

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/executor"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/session"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Service names published by the module.
const (
	ServiceChat     = "chat.service"
	ServiceRegistry = "provider.registry"
	ServiceMetrics  = "telemetry.metrics"
	ServiceRedactor = "security.redactor"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Module wires the provider registry, the HTTP adapter, the session
// resolver and the executor into a chat.Service.
type Module struct {
	config   Config
	logger   *slog.Logger
	registry *provider.Registry
	service  *chat.Service
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "llm.generic",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return m.config.validate()
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	st, err := core.Service[store.Store](ctx, store.ServiceName)
	if err != nil {
		return fmt.Errorf("llm.generic: %w", err)
	}

	dir := m.config.ProvidersDir
	if dir == "" {
		dir = filepath.Join(ctx.DataDir, "providers")
	}
	reg, err := provider.LoadRegistry(dir, m.logger)
	if err != nil {
		return err
	}
	filter := security.NewURLFilter(m.config.URLFilter)
	for _, d := range reg.Descriptors() {
		if err := filter.Check(d.BaseURL); err != nil {
			return fmt.Errorf("llm.generic: provider %s: %w", d.ID, err)
		}
	}
	m.registry = reg

	metrics, err := core.Service[*telemetry.Metrics](ctx, ServiceMetrics)
	if err != nil {
		metrics = telemetry.NewMetrics()
		ctx.RegisterService(ServiceMetrics, metrics)
	}
	redactor, _ := core.Service[*security.Redactor](ctx, ServiceRedactor)

	a, err := adapter.New(adapter.Config{
		Registry:        reg,
		Fields:          st,
		History:         st,
		DefaultProvider: m.config.DefaultProvider,
		Timeout:         m.config.Timeout,
		Metrics:         metrics,
		Logger:          m.logger.With("component", "adapter"),
	})
	if err != nil {
		return fmt.Errorf("llm.generic: %w", err)
	}

	m.service = chat.NewService(chat.ServiceConfig{
		Catalog: reg,
		Adapter: a,
		Resolver: session.NewResolver(session.Config{
			Adapter: a,
			Store:   st,
			Metrics: metrics,
			Logger:  m.logger.With("component", "session"),
		}),
		Executor: executor.New(executor.Config{
			Sender:    a,
			BaseDelay: m.config.RetryBaseDelay,
			Metrics:   metrics,
			Logger:    m.logger.With("component", "executor"),
		}),
		Store:      st,
		MaxRetries: m.config.MaxRetries,
		Redactor:   redactor,
		Metrics:    metrics,
		Logger:     m.logger,
	})

	ctx.RegisterService(ServiceRegistry, reg)
	ctx.RegisterService(ServiceChat, m.service)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.registry == nil || len(m.registry.Models()) == 0 {
		return errors.Join(errors.New("llm.generic: no provider descriptor declares a model"), chat.ErrNoModels)
	}
	if id := m.config.DefaultProvider; id != "" && !m.registry.Has(id) {
		return fmt.Errorf("llm.generic: default_provider %q is not registered", id)
	}
	return nil
}

// Service returns the chat service built during Provision.
func (m *Module) Service() *chat.Service { return m.service }
