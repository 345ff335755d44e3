// Package cron implements the maintenance.cron module: scheduled pruning
// of idle session mappings and expired conversation history. Both jobs
// are opt-in.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/cron"
	"github.com/flemzord/rolegate/internal/store"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config enables the maintenance jobs. A zero duration disables a job.
type Config struct {
	SessionMaxIdle   time.Duration `yaml:"session_max_idle"`
	SessionSchedule  string        `yaml:"session_schedule"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	HistorySchedule  string        `yaml:"history_schedule"`

	// RunOnStart runs every enabled job once when the module starts.
	RunOnStart bool `yaml:"run_on_start"`
}

// Module owns the maintenance scheduler.
type Module struct {
	config    Config
	logger    *slog.Logger
	scheduler *cron.Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "maintenance.cron",
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
	st, err := core.Service[store.Store](ctx, store.ServiceName)
	if err != nil {
		return fmt.Errorf("maintenance.cron: %w", err)
	}

	m.scheduler = cron.NewScheduler(m.logger)
	if m.config.SessionMaxIdle > 0 {
		if err := m.scheduler.RegisterJob(&cron.SessionCleanupJob{
			Store:        st,
			MaxIdle:      m.config.SessionMaxIdle,
			Logger:       m.logger,
			ScheduleExpr: m.config.SessionSchedule,
		}); err != nil {
			return err
		}
	}
	if m.config.HistoryRetention > 0 {
		if err := m.scheduler.RegisterJob(&cron.HistoryRetentionJob{
			Store:        st,
			Retention:    m.config.HistoryRetention,
			Logger:       m.logger,
			ScheduleExpr: m.config.HistorySchedule,
		}); err != nil {
			return err
		}
	}
	if len(m.scheduler.Jobs()) == 0 {
		m.logger.Warn("maintenance.cron loaded without enabled jobs")
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.SessionMaxIdle < 0 || m.config.HistoryRetention < 0 {
		return errors.New("maintenance.cron: durations must not be negative")
	}
	if m.config.HistoryRetention > 0 && m.config.HistoryRetention < time.Hour {
		return errors.New("maintenance.cron: history_retention must be at least 1h")
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if err := m.scheduler.Start(); err != nil {
		return err
	}
	if m.config.RunOnStart {
		for _, name := range m.scheduler.Jobs() {
			m.scheduler.RunNow(context.Background(), name)
		}
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Stop(ctx)
}
