package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/flemzord/rolegate/internal/config"
	"github.com/flemzord/rolegate/internal/core"
)

// ErrModuleSetChanged is returned when the new file adds or removes
// modules. That needs a restart.
var ErrModuleSetChanged = errors.New("reload: module set changed, restart required")

// Handler applies a configuration file to a running App.
type Handler struct {
	app     *core.App
	logger  *slog.Logger
	dataDir string
	modules []string
}

// NewHandler creates a Handler for app, which was loaded with modules.
func NewHandler(app *core.App, logger *slog.Logger, dataDir string, modules []string) *Handler {
	return &Handler{
		app:     app,
		logger:  logger,
		dataDir: dataDir,
		modules: slices.Sorted(slices.Values(modules)),
	}
}

// HandleReload loads and validates path, then applies it.
func (h *Handler) HandleReload(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.Apply(ctx, cfg)
}

// Apply calls Reload on every module implementing core.Reloader with the
// module configurations of cfg. cfg must already be valid.
func (h *Handler) Apply(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload cancelled: %w", err)
	}
	next := slices.Sorted(maps.Keys(cfg.Modules))
	if !slices.Equal(next, h.modules) {
		return fmt.Errorf("%w: had %v, got %v", ErrModuleSetChanged, h.modules, next)
	}

	appCtx := core.NewAppContext(h.logger, h.dataDir).WithModuleConfigs(cfg.Modules)
	if err := h.app.ReloadModules(appCtx); err != nil {
		return err
	}
	h.logger.Info("configuration reloaded")
	return nil
}
