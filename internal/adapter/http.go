package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/value"
)

// maxResponseSize is the maximum non-streamed response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// scannerBufferSize is the max line size for streamed responses.
const scannerBufferSize = 1 * 1024 * 1024

// call executes a non-streamed operation and returns the decoded body.
func (a *Adapter) call(ctx context.Context, d *provider.Descriptor, op provider.Operation, r *Renderer, sessionID string) (value.Value, error) {
	resp, err := a.do(ctx, d, op, r, sessionID)
	if err != nil {
		return value.Null(), err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return value.Null(), &TransportError{ProviderID: d.ID, Operation: op, Err: err}
	}
	if op == provider.OpRenameSession {
		return value.Null(), nil
	}
	data, err := value.ParseJSON(body)
	if err != nil {
		return value.Null(), fmt.Errorf("adapter: %s %s: decode response: %w", d.ID, op, err)
	}
	return data, nil
}

// send executes send_message, streamed or not, and returns the text.
func (a *Adapter) send(ctx context.Context, d *provider.Descriptor, r *Renderer, sessionID string) (string, error) {
	ep, ok := d.Endpoint(provider.OpSendMessage)
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrEndpointNotConfigured, d.ID, provider.OpSendMessage)
	}
	if !ep.Response.Stream {
		data, err := a.call(ctx, d, provider.OpSendMessage, r, sessionID)
		if err != nil {
			return "", err
		}
		v, found := value.Lookup(data, ep.Response.ContentPath)
		if !found || !v.Truthy() {
			return "", fmt.Errorf("%w (provider %s)", ErrMissingContent, d.ID)
		}
		return v.Text(), nil
	}

	resp, err := a.do(ctx, d, provider.OpSendMessage, r, sessionID)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	text, err := readStream(resp.Body, ep.Response)
	if err != nil {
		if errors.Is(err, ErrStreamEmpty) {
			return "", fmt.Errorf("%w (provider %s)", err, d.ID)
		}
		return "", &TransportError{ProviderID: d.ID, Operation: provider.OpSendMessage, Err: err}
	}
	return text, nil
}

// do renders the endpoint template, sends the request and returns the
// response when its status is 2xx. The caller closes the body.
func (a *Adapter) do(ctx context.Context, d *provider.Descriptor, op provider.Operation, r *Renderer, sessionID string) (*http.Response, error) {
	ep, ok := d.Endpoint(op)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrEndpointNotConfigured, d.ID, op)
	}
	client, ok := a.clients[d.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no client", ErrUnknownProvider, d.ID)
	}

	headers, err := r.Render(ctx, ep.Request.Headers)
	if err != nil {
		return nil, err
	}

	var payload value.Value
	var body io.Reader
	if op != provider.OpListSessions {
		payload = ep.Request.Body
		if payload.IsNull() {
			payload = value.Map(nil)
		}
		if payload, err = r.Render(ctx, payload); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("adapter: %s %s: marshal request: %w", d.ID, op, err)
		}
		body = bytes.NewReader(raw)
	}

	path := expandPath(ep.Path, sessionID)
	a.logger.Info("provider request",
		"provider", d.ID,
		"operation", string(op),
		"method", ep.Method,
		"path", path,
		"stream", op == provider.OpSendMessage && ep.Response.Stream,
		"headers", security.MaskValue(headers),
		"payload", security.MaskValue(payload),
	)

	req, err := http.NewRequestWithContext(ctx, ep.Method, joinURL(d.BaseURL, path), body)
	if err != nil {
		return nil, fmt.Errorf("adapter: %s %s: create request: %w", d.ID, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if fields, ok := headers.Fields(); ok {
		for k, v := range fields {
			if !v.IsNull() {
				req.Header.Set(k, v.Text())
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{ProviderID: d.ID, Operation: op, Err: err}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, &TransportError{
			ProviderID: d.ID,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       string(excerpt),
		}
	}
	return resp, nil
}

// readStream accumulates content fragments from a line-delimited stream.
func readStream(body io.Reader, spec provider.ResponseSpec) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	var parts strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if spec.StreamLinePrefix != "" && strings.HasPrefix(line, spec.StreamLinePrefix) {
			line = strings.TrimSpace(strings.TrimPrefix(line, spec.StreamLinePrefix))
		}
		if spec.StreamDoneValue != nil && line == *spec.StreamDoneValue {
			break
		}

		data, err := value.ParseJSON([]byte(line))
		if err != nil {
			continue
		}
		if spec.StreamContentPath != "" {
			if chunk, ok := value.Lookup(data, spec.StreamContentPath); ok && chunk.Truthy() {
				parts.WriteString(chunk.Text())
			}
		}
		if spec.StreamDonePath != "" {
			if done, ok := value.Lookup(data, spec.StreamDonePath); ok && done.Truthy() {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	text := strings.TrimSpace(parts.String())
	if text == "" {
		return "", ErrStreamEmpty
	}
	return text, nil
}

// extractIDs pulls session ids out of a list_sessions response.
func extractIDs(data value.Value, spec provider.ResponseSpec) ([]string, error) {
	items := data
	if spec.ListPath != "" {
		items, _ = value.Lookup(data, spec.ListPath)
	}
	list, ok := items.Items()
	if !ok {
		return nil, fmt.Errorf("%w: list_sessions response is not a list", ErrUnexpectedResponse)
	}

	ids := make([]string, 0, len(list))
	for _, item := range list {
		if spec.ItemIDPath == "" {
			ids = append(ids, item.Text())
			continue
		}
		if v, found := value.Lookup(item, spec.ItemIDPath); found && !v.IsNull() {
			ids = append(ids, v.Text())
		}
	}
	return ids, nil
}

// expandPath substitutes {session_id} when a session id is known.
func expandPath(path, sessionID string) string {
	if sessionID == "" {
		return path
	}
	return strings.ReplaceAll(path, "{session_id}", url.PathEscape(sessionID))
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
