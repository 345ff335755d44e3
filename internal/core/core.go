package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App loads modules in configuration order, starts them in that order and
// stops them in reverse.
type App struct {
	ctx     *AppContext
	modules []*moduleInstance
	logger  *slog.Logger
}

type moduleInstance struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp creates an App whose modules are loaded through ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules configures, provisions and validates each module. On the
// first failure every module loaded so far is stopped and forgotten.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.Unload()
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		a.modules = append(a.modules, &moduleInstance{id: mod.ModuleInfo().ID, module: mod})
		a.logger.Debug("module loaded", "module", id)
	}
	return nil
}

// Start runs Start on every Starter in load order. When one fails the
// modules before it are stopped. Modules without a Start hook count as
// started so Stop still reaches them.
func (a *App) Start() error {
	for i, mi := range a.modules {
		if s, ok := mi.module.(Starter); ok {
			began := time.Now()
			if err := s.Start(); err != nil {
				a.logger.Error("module start failed", "module", string(mi.id), "error", err)
				_ = a.stop(a.modules[:i], false)
				return fmt.Errorf("starting module %s: %w", mi.id, err)
			}
			a.logger.Info("module started", "module", string(mi.id), "elapsed", time.Since(began))
		}
		mi.started = true
	}
	a.logger.Info("all modules started", "count", len(a.modules))
	return nil
}

// Stop stops started modules in reverse order within shutdownTimeout and
// returns their errors joined.
func (a *App) Stop() error {
	return a.stop(a.modules, false)
}

// Unload stops every loaded module, started or not, and forgets them.
// Commands that only provision modules call it instead of Stop.
func (a *App) Unload() {
	_ = a.stop(a.modules, true)
	a.modules = nil
}

func (a *App) stop(mods []*moduleInstance, all bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(mods) - 1; i >= 0; i-- {
		mi := mods[i]
		if !mi.started && !all {
			continue
		}
		mi.started = false
		s, ok := mi.module.(Stopper)
		if !ok {
			continue
		}
		a.logger.Info("stopping module", "module", string(mi.id))
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop error", "module", string(mi.id), "error", err)
			errs = append(errs, fmt.Errorf("stopping module %s: %w", mi.id, err))
		}
	}
	return errors.Join(errs...)
}

// ReloadModules calls Reload on every Reloader with ctx scoped to the
// module, and joins the failures.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for _, mi := range a.modules {
		r, ok := mi.module.(Reloader)
		if !ok {
			continue
		}
		a.logger.Info("reloading module", "module", string(mi.id))
		if err := r.Reload(ctx.ForModule(mi.id)); err != nil {
			a.logger.Error("module reload failed", "module", string(mi.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", mi.id, err))
		}
	}
	return errors.Join(errs...)
}

// Context returns the application context modules were loaded with.
func (a *App) Context() *AppContext { return a.ctx }
