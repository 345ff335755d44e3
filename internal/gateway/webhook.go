package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = chat.SignatureHeader

// WebhookHandler processes a validated webhook payload.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error
}

type webhookEntry struct {
	handler WebhookHandler
	secret  string
}

// WebhookDispatcher routes incoming webhooks to registered handlers with HMAC validation.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	maxBody  int64
	logger   *slog.Logger
}

// NewWebhookDispatcher creates a ready-to-use dispatcher. Bodies larger
// than maxBody bytes are rejected.
func NewWebhookDispatcher(logger *slog.Logger, maxBody int64) *WebhookDispatcher {
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		maxBody:  maxBody,
		logger:   logger,
	}
}

// Register adds a handler for the given source with an optional HMAC secret.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: secret}
}

// ServeHTTP implements http.Handler. It extracts the source from the chi URL param,
// validates HMAC if configured, and dispatches to the registered handler.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := chi.URLParam(r, "source")
	if source == "" {
		http.Error(w, "missing source", http.StatusBadRequest)
		return
	}

	d.mu.RLock()
	entry, ok := d.handlers[source]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("webhook received for unregistered source", "source", source)
		http.Error(w, "unknown webhook source", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusRequestEntityTooLarge)
		return
	}

	if entry.secret != "" && !validateHMAC(body, r.Header.Get(SignatureHeader), entry.secret) {
		d.logger.Warn("webhook signature rejected", "source", source, "headers", security.MaskMap(headerFields(r.Header)))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if err := entry.handler.HandleWebhook(r.Context(), source, body, r.Header); err != nil {
		d.logger.Error("webhook handler failed", "source", source, "error", err)
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// headerFields flattens h for logging. Multi-valued headers are joined.
func headerFields(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// validateHMAC checks HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	expected := chat.Sign(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// inboundHandler feeds front-end chat messages into the dispatcher.
type inboundHandler struct {
	dispatcher *chat.Dispatcher
}

// HandleWebhook implements WebhookHandler.
func (h inboundHandler) HandleWebhook(ctx context.Context, _ string, body []byte, _ http.Header) error {
	if err := security.ValidateJSONDepth(body, 0); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	var in chat.Inbound
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return h.dispatcher.Submit(ctx, in)
}
