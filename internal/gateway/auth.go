package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/rolegate/internal/security"
)

// credentials is the set of accepted /api credentials.
type credentials struct {
	tokens    [][]byte
	basicUser []byte
	basicPass []byte
}

func newCredentials(cfg AuthConfig) credentials {
	var c credentials
	for _, tok := range cfg.tokens() {
		c.tokens = append(c.tokens, []byte(tok))
	}
	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		c.basicUser, c.basicPass = []byte(cfg.BasicUser), []byte(cfg.BasicPass)
	}
	return c
}

// check reports whether r carries an accepted bearer token or basic
// credentials. Every configured token is compared so timing does not
// reveal which one matched.
func (c credentials) check(r *http.Request) bool {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && len(c.tokens) > 0 {
		presented := []byte(after)
		match := 0
		for _, tok := range c.tokens {
			match |= subtle.ConstantTimeCompare(presented, tok)
		}
		return match == 1
	}
	if c.basicUser == nil {
		return false
	}
	user, pass, ok := r.BasicAuth()
	return ok &&
		subtle.ConstantTimeCompare([]byte(user), c.basicUser)&
			subtle.ConstantTimeCompare([]byte(pass), c.basicPass) == 1
}

// authMiddleware guards /api. Attempts are counted per client address when
// limiter is set; failures are logged without the presented credential.
func authMiddleware(cfg AuthConfig, logger *slog.Logger, limiter *security.RateLimiter) func(http.Handler) http.Handler {
	creds := newCredentials(cfg)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			if err := limiter.Allow("auth:" + client); err != nil {
				logger.Warn("gateway auth rate limited", "client", client, "path", r.URL.Path)
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if !creds.check(r) {
				detail := "invalid credentials"
				if r.Header.Get("Authorization") == "" {
					detail = "missing authorization header"
				}
				logger.Warn("gateway auth failure", "detail", detail, "client", client, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="rolegate"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr is the remote host without its port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
