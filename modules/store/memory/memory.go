// Package memory registers the in-memory store as a module. Data does not
// survive a restart; it suits tests and throwaway deployments.
package memory

import (
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/store"
)

func init() {
	core.RegisterModule(&Module{})
}

var _ core.Provisioner = (*Module)(nil)

// Module publishes a store.Memory as the "store" service.
type Module struct {
	store *store.Memory
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.memory",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.store = store.NewMemory()
	ctx.RegisterService(store.ServiceName, store.Store(m.store))
	ctx.Logger.Warn("using in-memory store, data is lost on restart")
	return nil
}
