// Package providertest provides an in-process HTTP provider and the
// descriptor that drives it, for tests that exercise the full adapter
// stack.
package providertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/rolegate/internal/provider"
)

// ProviderID is the id of the descriptor built by Start.
const ProviderID = "alpha"

// ValidToken is the only bearer token the fake provider accepts.
const ValidToken = "secret-token-1"

// descriptorTemplate takes the server base URL.
const descriptorTemplate = `{
	"id": "alpha",
	"base_url": %q,
	"auth": {"mode": "bearer"},
	"capabilities": {"list_sessions": true, "create_session": true, "rename_session": true, "model_select": true},
	"user_fields": {"auth_token": {"prompt": "Send your alpha token", "scope": "provider"}},
	"models": [{"id": "m1", "label": "Model one"}, {"id": "m2"}],
	"endpoints": {
		"list_sessions": {
			"path": "/sessions",
			"request": {"headers": {"Authorization": "Bearer [[[auth_token]]]"}},
			"response": {"list_path": "data", "item_id_path": "id"}
		},
		"create_session": {
			"path": "/sessions",
			"request": {"headers": {"Authorization": "Bearer [[[auth_token]]]"}},
			"response": {"session_id_path": "id"}
		},
		"rename_session": {
			"method": "patch",
			"path": "/sessions/{session_id}",
			"request": {"headers": {"Authorization": "Bearer [[[auth_token]]]"}, "body_template": {"title": "{{name}}"}}
		},
		"send_message": {
			"path": "/sessions/{session_id}/messages",
			"request": {
				"headers": {"Authorization": "Bearer [[[auth_token]]]"},
				"body_template": {"text": "{{content}}", "model": "{{model}}"}
			},
			"response": {"content_path": "reply"}
		}
	}
}`

// Sent is one message the fake provider received.
type Sent struct {
	SessionID string
	Text      string
	Model     string
}

// FakeProvider is an in-process provider: sessions it did not create
// answer 404, and every call needs ValidToken.
type FakeProvider struct {
	mu       sync.Mutex
	sessions []string
	sends    []Sent
	renames  []string
	calls    int
}

// Server bundles a running fake provider with its registry.
type Server struct {
	*FakeProvider
	HTTP     *httptest.Server
	Registry *provider.Registry
}

// Start runs a FakeProvider on an httptest server closed at test cleanup
// and returns a registry holding its descriptor.
func Start(t *testing.T) Server {
	t.Helper()

	fp := &FakeProvider{}
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	desc, err := provider.ParseDescriptor("alpha.json", []byte(fmt.Sprintf(descriptorTemplate, srv.URL)), nil)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	reg, err := provider.NewRegistry(desc)
	if err != nil {
		t.Fatal(err)
	}
	return Server{FakeProvider: fp, HTTP: srv, Registry: reg}
}

// Clients returns the per-provider HTTP clients for adapter.Config.
func (s Server) Clients() map[string]*http.Client {
	return map[string]*http.Client{ProviderID: s.HTTP.Client()}
}

// ServeHTTP implements http.Handler.
func (p *FakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if r.Header.Get("Authorization") != "Bearer "+ValidToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/sessions")
	switch {
	case r.Method == http.MethodGet && path == "":
		items := make([]map[string]string, 0, len(p.sessions))
		for _, id := range p.sessions {
			items = append(items, map[string]string{"id": id})
		}
		writeJSON(w, map[string]any{"data": items})
	case r.Method == http.MethodPost && path == "":
		id := fmt.Sprintf("s%d", len(p.sessions)+1)
		p.sessions = append(p.sessions, id)
		writeJSON(w, map[string]string{"id": id})
	case r.Method == http.MethodPatch:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.renames = append(p.renames, body["title"])
		writeJSON(w, map[string]string{})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/messages")
		if !slices.Contains(p.sessions, id) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		text, _ := body["text"].(string)
		model, _ := body["model"].(string)
		p.sends = append(p.sends, Sent{SessionID: id, Text: text, Model: model})
		writeJSON(w, map[string]string{"reply": "echo: " + text})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// Snapshot returns the received messages and the total call count.
func (p *FakeProvider) Snapshot() (sends []Sent, calls int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sends), p.calls
}

// Renamed returns the titles of every rename call.
func (p *FakeProvider) Renamed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.renames)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
