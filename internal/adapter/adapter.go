// Package adapter executes abstract conversation operations against
// providers described by declarative descriptors. Requests are rendered
// from templates, sent over HTTP and the results extracted with dot paths.
package adapter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
	"github.com/flemzord/rolegate/internal/value"
)

// DefaultTimeout bounds a whole provider call, streamed body included.
const DefaultTimeout = 600 * time.Second

const tracerName = "github.com/flemzord/rolegate/internal/adapter"

// Config holds the collaborators of an Adapter.
type Config struct {
	Registry *provider.Registry
	Fields   store.UserFieldStore
	History  store.HistoryStore

	// DefaultProvider is used for empty or bare-model references. Defaults
	// to the first registered provider.
	DefaultProvider string

	// Clients overrides the HTTP client per provider id.
	Clients map[string]*http.Client
	Timeout time.Duration

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DefaultProvider == "" && c.Registry != nil {
		c.DefaultProvider = c.Registry.DefaultID()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Adapter turns conversation operations into provider HTTP calls. It is
// safe for concurrent use.
type Adapter struct {
	registry        *provider.Registry
	fields          store.UserFieldStore
	history         store.HistoryStore
	defaultProvider string
	clients         map[string]*http.Client
	metrics         *telemetry.Metrics
	logger          *slog.Logger
	tracer          trace.Tracer
}

// New builds an Adapter. Providers with a CA certificate path get a client
// trusting that CA; an unreadable certificate fails construction.
func New(cfg Config) (*Adapter, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("adapter: registry is required")
	}
	cfg = cfg.withDefaults()

	clients := make(map[string]*http.Client, cfg.Registry.Len())
	for _, d := range cfg.Registry.Descriptors() {
		if c, ok := cfg.Clients[d.ID]; ok {
			clients[d.ID] = c
			continue
		}
		c, err := newClient(d, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		clients[d.ID] = c
	}

	return &Adapter{
		registry:        cfg.Registry,
		fields:          cfg.Fields,
		history:         cfg.History,
		defaultProvider: cfg.DefaultProvider,
		clients:         clients,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		tracer:          otel.Tracer(tracerName),
	}, nil
}

func newClient(d *provider.Descriptor, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if d.CACertPath == "" {
		return client, nil
	}

	pem, err := os.ReadFile(d.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("adapter: provider %s: read CA certificate: %w", d.ID, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("adapter: provider %s: no certificates in %s", d.ID, d.CACertPath)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	client.Transport = transport
	return client, nil
}

// ParseRef splits a model reference using the adapter's registry and
// default provider.
func (a *Adapter) ParseRef(ref string) provider.ModelRef {
	return provider.ParseModelRef(ref, a.defaultProvider, a.registry.Has)
}

// ProviderIDFor returns the provider id ref selects.
func (a *Adapter) ProviderIDFor(ref string) string {
	return a.ParseRef(ref).ProviderID
}

// Supports reports whether the provider selected by ref declares c. Unknown
// providers support nothing.
func (a *Adapter) Supports(ref string, c provider.Capability) bool {
	d, ok := a.registry.Get(a.ProviderIDFor(ref))
	return ok && d.Supports(c)
}

// AuthModeFor returns the auth mode of the provider selected by ref.
func (a *Adapter) AuthModeFor(ref string) (string, error) {
	d, _, err := a.target(ref)
	if err != nil {
		return "", err
	}
	if d.AuthMode == "" {
		return provider.AuthModeNone, nil
	}
	return d.AuthMode, nil
}

// Descriptor returns the descriptor selected by ref.
func (a *Adapter) Descriptor(ref string) (*provider.Descriptor, error) {
	d, _, err := a.target(ref)
	return d, err
}

// ListSessions returns the provider-side session ids visible to the user.
// Credentials are taken from user fields; token is informational.
func (a *Adapter) ListSessions(ctx context.Context, token, ref string) (ids []string, err error) {
	d, _, err := a.target(ref)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(d, provider.CapListSessions); err != nil {
		return nil, err
	}

	ctx, finish := a.begin(ctx, d, provider.OpListSessions)
	defer func() { finish(err) }()

	r := &Renderer{Provider: d, Fields: a.fields}
	data, err := a.call(ctx, d, provider.OpListSessions, r, "")
	if err != nil {
		return nil, err
	}
	ep, _ := d.Endpoint(provider.OpListSessions)
	return extractIDs(data, ep.Response)
}

// CreateSession opens a new provider-side session and returns its id.
// Metadata is accepted for callers that label sessions; the generic
// protocol has no slot for it.
func (a *Adapter) CreateSession(ctx context.Context, token string, metadata map[string]string, roleID *int64, ref string) (id string, err error) {
	d, _, err := a.target(ref)
	if err != nil {
		return "", err
	}
	if err := requireCapability(d, provider.CapCreateSession); err != nil {
		return "", err
	}

	ctx, finish := a.begin(ctx, d, provider.OpCreateSession)
	defer func() { finish(err) }()

	r := &Renderer{Provider: d, Fields: a.fields, RoleID: roleID}
	data, err := a.call(ctx, d, provider.OpCreateSession, r, "")
	if err != nil {
		return "", err
	}

	ep, _ := d.Endpoint(provider.OpCreateSession)
	v, found := value.Lookup(data, ep.Response.SessionIDPath)
	if !found || !v.Truthy() {
		return "", fmt.Errorf("%w (provider %s)", ErrMissingSessionID, d.ID)
	}
	return v.Text(), nil
}

// RenameSession sets a human-readable name on a provider-side session.
func (a *Adapter) RenameSession(ctx context.Context, sessionID, token, name string, roleID *int64, ref string) (err error) {
	d, _, err := a.target(ref)
	if err != nil {
		return err
	}
	if err := requireCapability(d, provider.CapRenameSession); err != nil {
		return err
	}

	ctx, finish := a.begin(ctx, d, provider.OpRenameSession)
	defer func() { finish(err) }()

	r := &Renderer{
		Provider: d,
		Fields:   a.fields,
		RoleID:   roleID,
		Vars: map[string]value.Value{
			VarSessionID: value.String(sessionID),
			VarName:      value.String(name),
		},
	}
	_, err = a.call(ctx, d, provider.OpRenameSession, r, sessionID)
	return err
}

// SendMessage sends content on sessionID and returns the response text.
// The model part of ref is dropped when the provider lacks model selection.
// On success the user and assistant turns are appended to history.
func (a *Adapter) SendMessage(ctx context.Context, sessionID, token, content, ref string, roleID *int64) (text string, err error) {
	d, mref, err := a.target(ref)
	if err != nil {
		return "", err
	}

	model := value.Null()
	if mref.ModelID != "" && d.Supports(provider.CapModelSelect) {
		model = value.String(mref.ModelID)
	}

	ctx, finish := a.begin(ctx, d, provider.OpSendMessage)
	defer func() { finish(err) }()

	messages, err := a.replay(ctx, d, sessionID)
	if err != nil {
		return "", err
	}

	r := &Renderer{
		Provider: d,
		Fields:   a.fields,
		RoleID:   roleID,
		Vars: map[string]value.Value{
			VarSessionID: value.String(sessionID),
			VarContent:   value.String(content),
			VarModel:     model,
			VarMessages:  messages,
		},
	}
	text, err = a.send(ctx, d, r, sessionID)
	if err != nil {
		return "", err
	}

	a.logger.Info("provider response", "provider", d.ID, "chars", len(text))
	a.record(ctx, sessionID, content, text)
	return text, nil
}

// replay returns the bounded prior turns as a list of {role, content} maps.
func (a *Adapter) replay(ctx context.Context, d *provider.Descriptor, sessionID string) (value.Value, error) {
	if !d.History.Enabled || a.history == nil {
		return value.List(), nil
	}
	turns, err := a.history.ListTurns(ctx, sessionID, d.History.MaxMessages)
	if err != nil {
		return value.Null(), fmt.Errorf("adapter: load history: %w", err)
	}
	out := make([]value.Value, 0, len(turns))
	for _, t := range turns {
		out = append(out, value.Map(map[string]value.Value{
			"role":    value.String(string(t.Speaker)),
			"content": value.String(t.Content),
		}))
	}
	return value.List(out...), nil
}

// record appends the exchanged turns. The response has already been
// received, so failures are logged rather than returned.
func (a *Adapter) record(ctx context.Context, sessionID, content, reply string) {
	if a.history == nil {
		return
	}
	if err := a.history.AppendTurn(ctx, sessionID, store.SpeakerUser, content); err != nil {
		a.logger.Error("append user turn failed", "session_id", sessionID, "error", err)
		return
	}
	if err := a.history.AppendTurn(ctx, sessionID, store.SpeakerAssistant, reply); err != nil {
		a.logger.Error("append assistant turn failed", "session_id", sessionID, "error", err)
	}
}

// target resolves ref to a registered generic descriptor.
func (a *Adapter) target(ref string) (*provider.Descriptor, provider.ModelRef, error) {
	mref := a.ParseRef(ref)
	d, ok := a.registry.Get(mref.ProviderID)
	if !ok {
		return nil, mref, fmt.Errorf("%w: %q", ErrUnknownProvider, mref.ProviderID)
	}
	if d.Adapter != provider.AdapterGeneric {
		return nil, mref, &provider.ConfigValidationError{
			ProviderID: d.ID,
			Path:       d.Source,
			Reason:     fmt.Sprintf("unsupported adapter %q", d.Adapter),
		}
	}
	return d, mref, nil
}

func requireCapability(d *provider.Descriptor, c provider.Capability) error {
	if !d.Supports(c) {
		return &CapabilityError{ProviderID: d.ID, Capability: c}
	}
	return nil
}

// begin opens a span for op and returns a function that closes it and
// records metrics.
func (a *Adapter) begin(ctx context.Context, d *provider.Descriptor, op provider.Operation) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "adapter."+string(op), trace.WithAttributes(
		attribute.String("provider.id", d.ID),
	))
	return ctx, func(err error) {
		a.metrics.ObserveRequest(d.ID, string(op), err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
