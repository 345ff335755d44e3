package chat

import (
	"context"
	"testing"
	"time"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/executor"
	"github.com/flemzord/rolegate/internal/provider/providertest"
	"github.com/flemzord/rolegate/internal/session"
	"github.com/flemzord/rolegate/internal/store"
)

const validToken = providertest.ValidToken

type env struct {
	service  *Service
	store    *store.Memory
	provider *providertest.FakeProvider
}

func newEnv(t *testing.T) env {
	t.Helper()

	srv := providertest.Start(t)
	mem := store.NewMemory()
	a, err := adapter.New(adapter.Config{
		Registry: srv.Registry,
		Fields:   mem,
		History:  mem,
		Clients:  srv.Clients(),
	})
	if err != nil {
		t.Fatal(err)
	}

	svc := NewService(ServiceConfig{
		Catalog:  srv.Registry,
		Adapter:  a,
		Resolver: session.NewResolver(session.Config{Adapter: a, Store: mem}),
		Executor: executor.New(executor.Config{Sender: a, BaseDelay: time.Millisecond}),
		Store:    mem,
	})
	return env{service: svc, store: mem, provider: srv.FakeProvider}
}

func (e env) authorize(t *testing.T) {
	t.Helper()
	if err := e.store.SetUserField(context.Background(), "alpha", AuthTokenField, nil, validToken); err != nil {
		t.Fatal(err)
	}
}

// addRole creates an active role bound to group.
func (e env) addRole(t *testing.T, group int64, name, model string) store.Role {
	t.Helper()
	ctx := context.Background()
	role, err := e.store.UpsertRole(ctx, store.Role{Name: name, Model: model, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetGroupRole(ctx, store.GroupRole{GroupID: group, RoleID: role.ID, Active: true}); err != nil {
		t.Fatal(err)
	}
	return role
}
