package core

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleID is a dotted, namespaced module identifier such as "store.sqlite".
// The namespace decides load order and which services a module may expect.
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot.
func (id ModuleID) Name() string {
	_, name, _ := strings.Cut(string(id), ".")
	return name
}

func (id ModuleID) validate() error {
	if id.Namespace() == "" || id.Name() == "" {
		return fmt.Errorf("module ID %q must look like namespace.name", id)
	}
	return nil
}

// ModuleInfo describes a registered module. New returns a fresh,
// unconfigured instance for every load.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every registrable component. The optional
// interfaces below are called in this order while loading:
//
//	New() → Configure() → Provision() → Validate()
//
// then Start at application start, Reload on configuration changes and
// Stop in reverse order at shutdown.
type Module interface {
	ModuleInfo() ModuleInfo
}

// Configurable receives the node found under modules.<id>. It is skipped
// when the configuration has no such entry.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner applies defaults, opens resources and publishes services
// for the modules loaded after it.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator checks the configured state. It must not have side effects.
type Validator interface {
	Validate() error
}

// Starter launches background work such as listeners and schedulers.
type Starter interface {
	Start() error
}

// Stopper releases what Provision or Start acquired.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader applies a new configuration to a running module. ctx carries
// the new module configurations; see AppContext.ModuleConfig.
type Reloader interface {
	Reload(ctx *AppContext) error
}
