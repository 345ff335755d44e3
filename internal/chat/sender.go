package chat

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body, in
// the form "sha256=<hex>".
const SignatureHeader = "X-Signature-256"

// WebhookSender posts outbound messages as JSON to a front-end callback.
type WebhookSender struct {
	URL string
	// Secret, when set, signs each body with HMAC-SHA256.
	Secret string
	Client *http.Client
}

// NewWebhookSender returns a sender posting to url with a bounded client.
func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, out Outbound) error {
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("chat: encode outbound: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.Secret))
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: callback: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat: callback returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
