package gateway

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flemzord/rolegate/internal/security"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	bearer := func(tok string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}
	basic := func(u, p string) func(*http.Request) {
		return func(r *http.Request) { r.SetBasicAuth(u, p) }
	}
	none := func(*http.Request) {}

	both := AuthConfig{BearerToken: "my-token", BasicUser: "admin", BasicPass: "pass"}
	rotated := AuthConfig{BearerToken: "old-token", BearerTokens: []string{"new-token"}}

	tests := []struct {
		name  string
		cfg   AuthConfig
		setup func(*http.Request)
		want  int
	}{
		{"valid bearer", both, bearer("my-token"), http.StatusOK},
		{"invalid bearer", both, bearer("wrong"), http.StatusUnauthorized},
		{"valid basic", both, basic("admin", "pass"), http.StatusOK},
		{"invalid basic", both, basic("admin", "nope"), http.StatusUnauthorized},
		{"missing header", both, none, http.StatusUnauthorized},
		{"rotated old token", rotated, bearer("old-token"), http.StatusOK},
		{"rotated new token", rotated, bearer("new-token"), http.StatusOK},
		{"basic not configured", rotated, basic("admin", "pass"), http.StatusUnauthorized},
		{"bearer not configured", AuthConfig{BasicUser: "u", BasicPass: "p"}, bearer(""), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			authMiddleware(tt.cfg, nil, nil)(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate")
			}
		})
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  AuthConfig
		want bool
	}{
		{"empty", AuthConfig{}, false},
		{"bearer only", AuthConfig{BearerToken: "tok"}, true},
		{"rotation list only", AuthConfig{BearerTokens: []string{"", "tok"}}, true},
		{"blank rotation list", AuthConfig{BearerTokens: []string{""}}, false},
		{"basic complete", AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
		{"basic partial user", AuthConfig{BasicUser: "u"}, false},
		{"basic partial pass", AuthConfig{BasicPass: "p"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("%s: IsConfigured() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAuthMiddleware_LogsFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := authMiddleware(AuthConfig{BearerToken: "token"}, logger, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer nope")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "gateway auth failure") || !strings.Contains(out, "/api/status") {
		t.Errorf("log = %q", out)
	}
	if strings.Contains(out, "nope") {
		t.Error("log leaked the presented credential")
	}
}

func TestAuthMiddleware_RateLimitedPerClient(t *testing.T) {
	t.Parallel()

	limiter := security.NewRateLimiter(security.RateLimitConfig{MessagesPerMin: 1})
	handler := authMiddleware(AuthConfig{BearerToken: "token"}, nil, limiter)(okHandler())

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if got := call("10.0.0.1:1000"); got != http.StatusOK {
		t.Errorf("first = %d", got)
	}
	if got := call("10.0.0.1:2000"); got != http.StatusTooManyRequests {
		t.Errorf("same client, other port = %d, want 429", got)
	}
	if got := call("10.0.0.2:1000"); got != http.StatusOK {
		t.Errorf("other client = %d, want 200", got)
	}
}

func TestClientAddr(t *testing.T) {
	t.Parallel()

	for remote, want := range map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:80":       "::1",
		"unix":           "unix",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		if got := clientAddr(r); got != want {
			t.Errorf("clientAddr(%q) = %q, want %q", remote, got, want)
		}
	}
}
