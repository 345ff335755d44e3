package provider

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/rolegate/internal/value"
)

// ParseDescriptor decodes a JSON or YAML descriptor document and validates
// it. path is used for format detection and error messages only.
func ParseDescriptor(path string, data []byte, logger *slog.Logger) (*Descriptor, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	doc, err := decodeDocument(path, data)
	if err != nil {
		return nil, &ConfigValidationError{Path: path, Reason: "decoding: " + err.Error()}
	}
	if doc.Kind() != value.KindMap {
		return nil, &ConfigValidationError{Path: path, Reason: "document is not an object"}
	}
	return buildDescriptor(path, doc, logger)
}

func decodeDocument(path string, data []byte) (value.Value, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return value.ParseJSON(data)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return value.Value{}, err
	}
	return value.FromAny(raw), nil
}

func buildDescriptor(path string, doc value.Value, logger *slog.Logger) (*Descriptor, error) {
	id := strings.TrimSpace(text(doc, "id"))
	if id == "" {
		return nil, &ConfigValidationError{Path: path, Reason: "missing id"}
	}
	invalid := func(reason string) error {
		return &ConfigValidationError{Path: path, ProviderID: id, Reason: reason}
	}

	baseURL := strings.TrimSpace(text(doc, "base_url"))
	if baseURL == "" {
		return nil, invalid("missing base_url")
	}

	adapter := strings.TrimSpace(text(doc, "adapter"))
	if adapter == "" {
		adapter = AdapterGeneric
	}
	if adapter != AdapterGeneric {
		return nil, invalid(fmt.Sprintf("unsupported adapter %q", adapter))
	}

	caps, err := parseCapabilities(doc)
	if err != nil {
		return nil, invalid(err.Error())
	}

	label := text(doc, "label")
	if label == "" {
		label = id
	}
	authMode := strings.TrimSpace(text(doc, "auth.mode"))
	if authMode == "" {
		authMode = AuthModeNone
	}

	d := &Descriptor{
		ID:           id,
		Label:        label,
		BaseURL:      baseURL,
		CACertPath:   strings.TrimSpace(text(doc, "tls.ca_cert_path")),
		Adapter:      adapter,
		AuthMode:     authMode,
		Capabilities: caps,
		Endpoints:    parseEndpoints(doc),
		History:      parseHistory(doc),
		UserFields:   parseUserFields(id, doc, logger),
		Source:       path,
	}
	d.Models = parseModels(d, doc, logger)
	return d, nil
}

func parseCapabilities(doc value.Value) (map[Capability]bool, error) {
	caps := make(map[Capability]bool)
	raw, ok := value.Lookup(doc, "capabilities")
	if !ok || raw.IsNull() {
		return caps, nil
	}
	fields, ok := raw.Fields()
	if !ok {
		return nil, fmt.Errorf("capabilities must be a map, got %s", raw.Kind())
	}
	for name, v := range fields {
		b, ok := v.Boolean()
		if !ok {
			return nil, fmt.Errorf("capability %q must be a boolean, got %s", name, v.Kind())
		}
		caps[Capability(name)] = b
	}
	return caps, nil
}

func parseEndpoints(doc value.Value) map[Operation]Endpoint {
	out := make(map[Operation]Endpoint)
	raw, _ := value.Lookup(doc, "endpoints")
	fields, ok := raw.Fields()
	if !ok {
		return out
	}
	for name, ep := range fields {
		if ep.Kind() != value.KindMap {
			continue
		}
		op := Operation(name)
		method := strings.ToUpper(strings.TrimSpace(text(ep, "method")))
		if method == "" {
			method = defaultMethod(op)
		}
		out[op] = Endpoint{
			Method: method,
			Path:   text(ep, "path"),
			Request: RequestTemplate{
				Headers: firstPresent(ep, "request.headers", "headers"),
				Body:    firstPresent(ep, "request.body_template", "body"),
			},
			Response: parseResponse(ep),
		}
	}
	return out
}

func parseResponse(ep value.Value) ResponseSpec {
	resp, _ := value.Lookup(ep, "response")
	spec := ResponseSpec{
		ListPath:          text(resp, "list_path"),
		ItemIDPath:        text(resp, "item_id_path"),
		SessionIDPath:     text(resp, "session_id_path"),
		ContentPath:       text(resp, "content_path"),
		StreamContentPath: text(resp, "stream_content_path"),
		StreamDonePath:    text(resp, "stream_done_path"),
		StreamLinePrefix:  text(resp, "stream_line_prefix"),
	}
	if spec.SessionIDPath == "" {
		spec.SessionIDPath = text(ep, "response_session_id_field")
	}
	if stream, ok := value.Lookup(resp, "stream"); ok {
		spec.Stream = stream.Truthy()
	}
	if done, ok := value.Lookup(resp, "stream_done_value"); ok && !done.IsNull() {
		s := done.Text()
		spec.StreamDoneValue = &s
	}
	return spec
}

func parseHistory(doc value.Value) History {
	var h History
	if enabled, ok := value.Lookup(doc, "history.enabled"); ok {
		h.Enabled = enabled.Truthy()
	}
	raw, ok := value.Lookup(doc, "history.max_messages")
	if !ok {
		return h
	}
	switch raw.Kind() {
	case value.KindNumber:
		f, _ := raw.Float()
		if f > 0 && f < math.MaxInt32 {
			h.MaxMessages = int(f)
		}
	case value.KindString:
		s, _ := raw.Str()
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			h.MaxMessages = n
		}
	}
	return h
}

func parseUserFields(providerID string, doc value.Value, logger *slog.Logger) map[string]UserField {
	out := make(map[string]UserField)
	raw, _ := value.Lookup(doc, "user_fields")
	fields, ok := raw.Fields()
	if !ok {
		return out
	}
	for key, decl := range fields {
		if decl.Kind() != value.KindMap {
			continue
		}
		prompt := strings.TrimSpace(text(decl, "prompt"))
		scope := Scope(strings.TrimSpace(text(decl, "scope")))
		if scope == "" {
			scope = ScopeProvider
		}
		if scope != ScopeProvider && scope != ScopeRole {
			logger.Warn("invalid user field scope, using provider",
				"provider", providerID, "field", key, "scope", string(scope))
			scope = ScopeProvider
		}
		if prompt == "" {
			continue
		}
		out[key] = UserField{Key: key, Prompt: prompt, Scope: scope}
	}
	return out
}

func parseModels(d *Descriptor, doc value.Value, logger *slog.Logger) []Model {
	raw, _ := value.Lookup(doc, "models")
	items, ok := raw.Items()
	if !ok {
		return nil
	}
	models := make([]Model, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(text(item, "id"))
		if id == "" {
			logger.Error("provider model without id", "provider", d.ID, "path", d.Source)
			continue
		}
		label := text(item, "label")
		if label == "" {
			label = id
		}
		models = append(models, Model{ProviderID: d.ID, ID: id, Label: label})
	}
	return models
}

func defaultMethod(op Operation) string {
	if op == OpListSessions {
		return "GET"
	}
	return "POST"
}

// text returns the textual form of the value at path, or "" when absent.
func text(v value.Value, path string) string {
	found, ok := value.Lookup(v, path)
	if !ok {
		return ""
	}
	return found.Text()
}

// firstPresent returns the first non-empty value among paths.
func firstPresent(v value.Value, paths ...string) value.Value {
	for _, p := range paths {
		if found, ok := value.Lookup(v, p); ok && found.Truthy() {
			return found
		}
	}
	return value.Null()
}
