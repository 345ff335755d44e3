package gateway

import (
	"context"
	"io"
	"net/http"
	"slices"
	"strconv"
	"testing"

	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/provider/providertest"
	"github.com/flemzord/rolegate/internal/store"
)

func TestAPI_Auth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)

	if resp := doRequest(t, http.MethodGet, e.url+"/api/providers", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodGet, e.url+"/api/providers", nil, "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/api/providers", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_NotMountedWithoutAuth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, func(g *Gateway) { g.config.Auth = AuthConfig{} })

	if resp := e.do(t, http.MethodGet, "/api/providers", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_AuthRateLimit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, func(g *Gateway) {
		g.config.AuthRateLimit = 2
		g.authLimiter = newAuthLimiter(g.config)
	})

	for i := range 2 {
		if resp := e.do(t, http.MethodGet, "/api/status", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, resp.StatusCode)
		}
	}
	if resp := e.do(t, http.MethodGet, "/api/status", nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestAPI_ListProviders(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/api/providers", nil)
	got := decode[[]providerJSON](t, resp)

	if len(got) != 1 {
		t.Fatalf("providers = %+v", got)
	}
	p := got[0]
	if p.ID != "alpha" || !p.RequiresAuth || p.AuthMode != "bearer" || p.Models != 2 {
		t.Errorf("provider = %+v", p)
	}
	want := []string{"create_session", "list_sessions", "model_select", "rename_session"}
	if !slices.Equal(p.Capabilities, want) {
		t.Errorf("capabilities = %v, want %v", p.Capabilities, want)
	}
	if !slices.Equal(p.UserFields, []string{"auth_token"}) {
		t.Errorf("user fields = %v", p.UserFields)
	}
}

func TestAPI_ListModels(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	got := decode[[]modelJSON](t, e.do(t, http.MethodGet, "/api/models", nil))

	if len(got) != 2 {
		t.Fatalf("models = %+v", got)
	}
	if got[0].Ref != "alpha:m1" || got[1].Ref != "alpha:m2" || !got[0].RequiresAuth {
		t.Errorf("models = %+v", got)
	}
}

func TestAPI_Chat(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	e.authorize(t)
	e.addRole(t, -100, "coder")

	resp := e.do(t, http.MethodPost, "/api/chat", chatRequest{UserID: 7, ChatID: -100, Role: "Coder", Content: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	reply := decode[chat.Reply](t, resp)
	if reply.Text != "echo: hello" || reply.Role != "coder" || reply.Model != "alpha:m1" || reply.SessionID == "" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestAPI_ChatNeedsFieldThenSubmit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	e.addRole(t, -100, "coder")

	resp := e.do(t, http.MethodPost, "/api/chat", chatRequest{UserID: 7, ChatID: -100, MessageID: 3, Role: "coder", Content: "hello"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	reply := decode[chat.Reply](t, resp)
	if reply.NeedsField == nil || reply.NeedsField.Key != chat.AuthTokenField {
		t.Fatalf("NeedsField = %+v", reply.NeedsField)
	}

	resp = e.do(t, http.MethodPost, "/api/fields", fieldRequest{UserID: 7, Value: providertest.ValidToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fields status = %d", resp.StatusCode)
	}
	p := decode[pendingJSON](t, resp)
	if p.Key != chat.AuthTokenField || p.ProviderID != "alpha" || p.MessageID != 3 || p.RoleName != "coder" || p.Replayed {
		t.Errorf("pending = %+v", p)
	}

	resp = e.do(t, http.MethodPost, "/api/chat", chatRequest{UserID: 7, ChatID: -100, Role: "coder", Content: "again"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after field = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_Errors(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	e.addRole(t, -100, "coder")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"chat missing content", "/api/chat", chatRequest{Role: "coder"}, http.StatusBadRequest},
		{"chat unknown role", "/api/chat", chatRequest{Role: "ghost", Content: "hi"}, http.StatusNotFound},
		{"chat unknown field", "/api/chat", map[string]any{"role": "coder", "content": "x", "extra": 1}, http.StatusBadRequest},
		{"field without pending", "/api/fields", fieldRequest{UserID: 99, Value: "v"}, http.StatusNotFound},
		{"field empty", "/api/fields", fieldRequest{UserID: 99, Value: "   "}, http.StatusBadRequest},
		{"auth rejected", "/api/auth", authRequest{UserID: 1, Token: "nope"}, http.StatusForbidden},
		{"auth empty", "/api/auth", authRequest{UserID: 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := e.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestAPI_Authorize(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	e.addRole(t, -100, "coder")

	resp := e.do(t, http.MethodPost, "/api/auth", authRequest{UserID: 7, GroupID: -100, Token: "  " + providertest.ValidToken + "  "})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}

	ctx := context.Background()
	if v, ok, _ := e.store.GetUserField(ctx, "alpha", chat.AuthTokenField, nil); !ok || v != providertest.ValidToken {
		t.Errorf("stored token = %q, %v", v, ok)
	}
	sessions, err := e.store.ListUserSessions(ctx, 7)
	if err != nil || len(sessions) != 1 {
		t.Errorf("warm-up sessions = %+v, %v", sessions, err)
	}
}

func TestAPI_Sessions(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	e.authorize(t)
	role := e.addRole(t, -100, "coder")

	if resp := e.do(t, http.MethodPost, "/api/chat", chatRequest{UserID: 7, ChatID: -100, Role: "coder", Content: "hello"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}

	list := decode[[]sessionJSON](t, e.do(t, http.MethodGet, "/api/sessions/7", nil))
	if len(list) != 1 || list[0].GroupID != -100 || list[0].RoleID != role.ID || list[0].SessionID == "" {
		t.Fatalf("sessions = %+v", list)
	}

	sessionPath := "/api/sessions/7/-100/" + strconv.FormatInt(role.ID, 10)
	turns := decode[[]turnJSON](t, e.do(t, http.MethodGet, sessionPath+"/history", nil))
	if len(turns) != 2 || turns[0].Speaker != string(store.SpeakerUser) || turns[1].Content != "echo: hello" {
		t.Errorf("history = %+v", turns)
	}
	if last := decode[[]turnJSON](t, e.do(t, http.MethodGet, sessionPath+"/history?limit=1", nil)); len(last) != 1 || last[0].Speaker != string(store.SpeakerAssistant) {
		t.Errorf("limited history = %+v", last)
	}
	if resp := e.do(t, http.MethodGet, sessionPath+"/history?limit=x", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}

	if resp := e.do(t, http.MethodDelete, sessionPath, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, sessionPath+"/history", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("history after delete = %d, want 404", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/api/sessions/abc", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad user id status = %d", resp.StatusCode)
	}
}

func TestAPI_StatusAndModules(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)

	status := decode[StatusResponse](t, e.do(t, http.MethodGet, "/api/status", nil))
	if !slices.Equal(status.Providers, []string{"alpha"}) || status.Dispatcher {
		t.Errorf("status = %+v", status)
	}

	mods := decode[[]moduleJSON](t, e.do(t, http.MethodGet, "/api/modules", nil))
	if !slices.ContainsFunc(mods, func(m moduleJSON) bool { return m.ID == "gateway.http" && m.Namespace == "gateway" }) {
		t.Errorf("modules = %+v", mods)
	}
}

func TestAPI_MessagesRequireDispatcher(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodPost, "/api/messages", chat.Inbound{ChatID: -1, UserID: 1, Text: "hi"})
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want route missing", resp.StatusCode)
	}
}

func TestAPI_MessagesThroughDispatcher(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, func(g *Gateway) {
		g.dispatcher = chat.NewDispatcher(chat.DispatcherConfig{Service: g.service})
		t.Cleanup(func() { _ = g.dispatcher.Stop(context.Background()) })
	})

	resp := e.do(t, http.MethodPost, "/api/messages", chat.Inbound{ChatID: 5, UserID: 7, MessageID: 1, Text: "token", Private: true})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	_ = e.gw.dispatcher.Stop(context.Background())
	resp = e.do(t, http.MethodPost, "/api/messages", chat.Inbound{ChatID: 5, UserID: 7, Text: "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("after stop: status = %d, want 503", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{errBadRequest, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{chat.ErrUnauthorized, http.StatusForbidden},
		{chat.ErrDispatcherStopped, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
