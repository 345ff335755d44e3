package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/flemzord/rolegate/internal/core"
)

// requires lists, per module namespace, the namespaces it consumes
// services from.
var requires = map[string][]string{
	"llm":         {"store"},
	"chat":        {"llm"},
	"gateway":     {"llm"},
	"maintenance": {"store"},
}

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, checks that
// all referenced module IDs exist in the registry, that exactly one store
// module is configured, and that every module's dependencies are present.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	namespaces := make(map[string]int)
	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, unknownModule(id))
		}
		namespaces[core.ModuleID(id).Namespace()]++
	}

	if namespaces["store"] > 1 {
		errs = append(errs, errors.New("config: only one store module may be configured"))
	}

	for _, id := range Resolve(cfg) {
		for _, dep := range requires[core.ModuleID(id).Namespace()] {
			if namespaces[dep] == 0 {
				errs = append(errs, fmt.Errorf("config: module %q requires a %s module", id, dep))
			}
		}
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", cfg.Log.Format))
	}
	for _, p := range cfg.Log.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("config: log.redact_patterns: %w", err))
		}
	}

	return errors.Join(errs...)
}

// unknownModule names the compiled modules of the same namespace, if any.
func unknownModule(id string) error {
	known := core.GetModulesByNamespace(core.ModuleID(id).Namespace())
	if len(known) == 0 {
		return fmt.Errorf("config: unknown module %q", id)
	}
	names := make([]string, len(known))
	for i, info := range known {
		names[i] = string(info.ID)
	}
	return fmt.Errorf("config: unknown module %q (available: %s)", id, strings.Join(names, ", "))
}

// ParseLevel maps a log level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", name)
	}
}
