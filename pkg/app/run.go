// Package app assembles rolegate from its configuration file and runs it
// until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/flemzord/rolegate/internal/config"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/reload"
	"github.com/flemzord/rolegate/internal/security"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides data_dir from the configuration file.
	DataDir string

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer
}

// Loaded is a configuration whose modules are provisioned but not started.
type Loaded struct {
	App        *core.App
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Logger     *slog.Logger
	Modules    []string
}

// Load resolves and validates the configuration, builds the process
// logger and provisions every configured module. Callers must Unload or
// Stop the returned App.
func Load(params RunParams) (*Loaded, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	for _, p := range cfg.Log.RedactPatterns {
		redactor.AddPattern(regexp.MustCompile(p))
	}
	logger, err := newLogger(cfg.Log, params.LogOutput, redactor)
	if err != nil {
		return nil, err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("config.path", cfgPath)
	if params.Version != "" {
		appCtx.RegisterService("app.version", params.Version)
	}

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}
	return &Loaded{
		App:        application,
		Config:     cfg,
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Logger:     logger,
		Modules:    ids,
	}, nil
}

// newLogger wraps the configured handler so registered secrets never
// reach the output.
func newLogger(cfg config.LogConfig, out io.Writer, redactor *security.Redactor) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(out, opts)
	} else {
		inner = slog.NewTextHandler(out, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor)), nil
}

// Run loads and starts every module, then blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives. SIGHUP and changes to the configuration file
// reload modules that implement core.Reloader.
func Run(ctx context.Context, params RunParams) error {
	loaded, err := Load(params)
	if err != nil {
		return err
	}
	logger := loaded.Logger

	if err := loaded.App.Start(); err != nil {
		return err
	}
	logger.Info("rolegate started", "version", params.Version, "config", loaded.ConfigPath, "modules", len(loaded.Modules))

	handler := reload.NewHandler(loaded.App, logger, loaded.DataDir, loaded.Modules)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: loaded.ConfigPath})
	watcher.Start(watchCtx)
	defer watcher.Stop()

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				reloadConfig(watchCtx, logger, handler, loaded.ConfigPath)
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			reloadConfig(watchCtx, logger, handler, evt.ConfigPath)
			continue
		case <-ctx.Done():
			logger.Info("shutdown requested")
		}
		if err := loaded.App.Stop(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	}
}

func reloadConfig(ctx context.Context, logger *slog.Logger, h *reload.Handler, path string) {
	err := h.HandleReload(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, reload.ErrModuleSetChanged):
		logger.Warn("reload skipped", "error", err)
	default:
		logger.Error("reload failed", "error", err)
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/rolegate/rolegate.yaml, then
// ~/.config/rolegate/rolegate.yaml, then ./rolegate.yaml.
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "rolegate", "rolegate.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "rolegate", "rolegate.yaml"))
	}

	candidates = append(candidates, "rolegate.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns $XDG_DATA_HOME/rolegate, or
// ~/.local/share/rolegate when the variable is unset.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "rolegate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "rolegate")
}
