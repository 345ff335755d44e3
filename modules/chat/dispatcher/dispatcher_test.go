package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/provider/providertest"
	"github.com/flemzord/rolegate/internal/store"
	"gopkg.in/yaml.v3"
)

func newAppContext(t *testing.T) *core.AppContext {
	t.Helper()
	srv := providertest.Start(t)
	ctx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	mem := store.NewMemory()
	ctx.RegisterService(store.ServiceName, store.Store(mem))
	ctx.RegisterService("chat.service", chat.NewService(chat.ServiceConfig{Catalog: srv.Registry, Store: mem}))
	return ctx
}

func configured(t *testing.T, src string) *Module {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatal(err)
	}
	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestModule_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := newAppContext(t)
	m := configured(t, "window: 50ms\nbot_username: bot\nrate_limit: 5\ncallback:\n  url: http://127.0.0.1:9/hook\n")
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	d, err := core.Service[*chat.Dispatcher](ctx, ServiceName)
	if err != nil || d != m.Dispatcher() {
		t.Fatalf("chat.dispatcher = %v, %v", d, err)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Submit(context.Background(), chat.Inbound{ChatID: -1, UserID: 1, Text: "hi"}); !errors.Is(err, chat.ErrDispatcherStopped) {
		t.Errorf("Submit after Stop = %v", err)
	}
}

func TestModule_RequiresChatService(t *testing.T) {
	t.Parallel()

	ctx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	if err := (&Module{}).Provision(ctx); err == nil {
		t.Error("expected missing chat.service error")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"empty", "{}", false},
		{"mention defaults on with username", "bot_username: bot", false},
		{"mention without username", "require_mention: true", true},
		{"negative rate", "rate_limit: -1", true},
		{"bad callback", "callback:\n  url: ftp://host/x", true},
		{"https callback", "callback:\n  url: https://front.example/hook\n  secret: s", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := configured(t, tt.src)
			if err := m.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_RequireMention(t *testing.T) {
	t.Parallel()

	off := false
	if !(&Config{BotUsername: "bot"}).requireMention() {
		t.Error("mention should default on with a username")
	}
	if (&Config{}).requireMention() {
		t.Error("mention should default off without a username")
	}
	if (&Config{BotUsername: "bot", RequireMention: &off}).requireMention() {
		t.Error("explicit false ignored")
	}
}

func TestModule_ReloadCallback(t *testing.T) {
	t.Parallel()

	ctx := newAppContext(t)
	m := configured(t, "window: 50ms\n")
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	reloadWith := func(src string) error {
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(src), &node); err != nil {
			t.Fatal(err)
		}
		next := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir()).
			WithModuleConfigs(map[string]yaml.Node{"chat.dispatcher": *node.Content[0]})
		return m.Reload(next.ForModule("chat.dispatcher"))
	}

	if err := reloadWith("callback:\n  url: ftp://bad/x\n"); err == nil {
		t.Error("invalid callback accepted")
	}
	if m.config.Callback.URL != "" {
		t.Errorf("callback changed on failed reload: %q", m.config.Callback.URL)
	}
	if err := reloadWith("callback:\n  url: https://front.example/hook\n  secret: s\n"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if m.config.Callback.URL != "https://front.example/hook" || m.config.Callback.Secret != "s" {
		t.Errorf("callback = %+v", m.config.Callback)
	}

	empty := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	if err := m.Reload(empty); err != nil {
		t.Errorf("Reload without config = %v", err)
	}
}
