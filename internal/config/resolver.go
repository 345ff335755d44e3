package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/rolegate/internal/core"
)

// loadOrder ranks module namespaces so providers of a service are loaded
// before its consumers. Unknown namespaces load last.
var loadOrder = map[string]int{
	"telemetry":   0,
	"store":       1,
	"llm":         2,
	"chat":        3,
	"gateway":     4,
	"maintenance": 5,
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(rank(a), rank(b)), cmp.Compare(a, b))
	})
	return ids
}

func rank(id string) int {
	if r, ok := loadOrder[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(loadOrder)
}
