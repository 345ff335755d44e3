package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// registry holds every compiled module sorted by ID.
var registry struct {
	mu    sync.RWMutex
	infos []ModuleInfo
}

func compareInfo(a ModuleInfo, id ModuleID) int { return cmp.Compare(a.ID, id) }

// RegisterModule records a module so configurations can name it. It is
// meant for init functions and panics on an invalid or duplicate ID.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if err := info.ID.validate(); err != nil {
		panic(err)
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	i, found := slices.BinarySearchFunc(registry.infos, info.ID, compareInfo)
	if found {
		panic(fmt.Sprintf("module already registered: %s", info.ID))
	}
	registry.infos = slices.Insert(registry.infos, i, info)
}

// GetModule returns the ModuleInfo registered under id.
func GetModule(id string) (ModuleInfo, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	i, found := slices.BinarySearchFunc(registry.infos, ModuleID(id), compareInfo)
	if !found {
		return ModuleInfo{}, false
	}
	return registry.infos[i], true
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return slices.Clone(registry.infos)
}

// GetModulesByNamespace returns the registered modules of one namespace,
// sorted by ID.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	var out []ModuleInfo
	for _, info := range registry.infos {
		if info.ID.Namespace() == namespace {
			out = append(out, info)
		}
	}
	return out
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.infos = nil
}
