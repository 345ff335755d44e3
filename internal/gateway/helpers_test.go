package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/executor"
	"github.com/flemzord/rolegate/internal/provider/providertest"
	"github.com/flemzord/rolegate/internal/session"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
	"gopkg.in/yaml.v3"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a gateway wired to a real chat service over an in-memory
// store and an in-process provider.
type testEnv struct {
	gw       *Gateway
	store    *store.Memory
	provider providertest.Server
	url      string
}

func newTestEnv(t *testing.T, mutate func(*Gateway)) testEnv {
	t.Helper()

	srv := providertest.Start(t)
	mem := store.NewMemory()
	metrics := telemetry.NewMetrics()
	a, err := adapter.New(adapter.Config{
		Registry: srv.Registry,
		Fields:   mem,
		History:  mem,
		Clients:  srv.Clients(),
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := chat.NewService(chat.ServiceConfig{
		Catalog:  srv.Registry,
		Adapter:  a,
		Resolver: session.NewResolver(session.Config{Adapter: a, Store: mem}),
		Executor: executor.New(executor.Config{Sender: a, BaseDelay: time.Millisecond}),
		Store:    mem,
		Metrics:  metrics,
	})

	g := &Gateway{
		config:   Config{Auth: AuthConfig{BearerToken: testToken}},
		logger:   testLogger(),
		service:  svc,
		registry: srv.Registry,
		store:    mem,
		metrics:  metrics,
	}
	g.config.defaults()
	g.webhooks = NewWebhookDispatcher(g.logger, g.config.MaxBodyBytes)
	g.startedAt = time.Now()
	if mutate != nil {
		mutate(g)
	}

	ts := httptest.NewServer(g.buildRouter())
	t.Cleanup(ts.Close)
	return testEnv{gw: g, store: mem, provider: srv, url: ts.URL}
}

func (e testEnv) authorize(t *testing.T) {
	t.Helper()
	if err := e.store.SetUserField(context.Background(), providertest.ProviderID, chat.AuthTokenField, nil, providertest.ValidToken); err != nil {
		t.Fatal(err)
	}
}

func (e testEnv) addRole(t *testing.T, group int64, name string) store.Role {
	t.Helper()
	ctx := context.Background()
	role, err := e.store.UpsertRole(ctx, store.Role{Name: name, Model: "alpha:m1", Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetGroupRole(ctx, store.GroupRole{GroupID: group, RoleID: role.ID, Active: true}); err != nil {
		t.Fatal(err)
	}
	return role
}

// do sends an authenticated request with an optional JSON body.
func (e testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	return doRequest(t, method, e.url+path, body, testToken)
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
