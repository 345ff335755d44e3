// Package provider describes conversational backends declaratively and
// loads their descriptors from disk.
package provider

import (
	"github.com/flemzord/rolegate/internal/value"
)

// Capability names an optional operation a provider may support.
type Capability string

// Capability constants.
const (
	CapListSessions  Capability = "list_sessions"
	CapCreateSession Capability = "create_session"
	CapRenameSession Capability = "rename_session"
	CapModelSelect   Capability = "model_select"
)

// Operation names an endpoint template.
type Operation string

// Operation constants. SendMessage is always available; the other three are
// gated by the matching capability.
const (
	OpListSessions  Operation = "list_sessions"
	OpCreateSession Operation = "create_session"
	OpRenameSession Operation = "rename_session"
	OpSendMessage   Operation = "send_message"
)

// Scope tells whether a user field is shared across roles or stored per role.
type Scope string

// Scope constants.
const (
	ScopeProvider Scope = "provider"
	ScopeRole     Scope = "role"
)

// AdapterGeneric is the only adapter kind currently supported.
const AdapterGeneric = "generic"

// AuthModeNone means the provider needs no per-user credential.
const AuthModeNone = "none"

// UserField declares a value the end user must supply, such as a bearer token.
type UserField struct {
	Key    string
	Prompt string
	Scope  Scope
}

// Model is a selectable model exposed by a provider.
type Model struct {
	ProviderID string `json:"provider_id"`
	ID         string `json:"id"`
	Label      string `json:"label"`
}

// FullID returns the "provider:model" reference for m.
func (m Model) FullID() string {
	return m.ProviderID + ":" + m.ID
}

// LabelFull returns "provider / label".
func (m Model) LabelFull() string {
	return m.ProviderID + " / " + m.Label
}

// RequestTemplate holds the templated parts of an outgoing request.
type RequestTemplate struct {
	Headers value.Value
	Body    value.Value
}

// ResponseSpec tells how to extract results from a provider response.
type ResponseSpec struct {
	ListPath      string
	ItemIDPath    string
	SessionIDPath string
	ContentPath   string

	Stream            bool
	StreamContentPath string
	StreamDonePath    string
	StreamLinePrefix  string
	// StreamDoneValue is nil when no sentinel line is configured.
	StreamDoneValue *string
}

// Endpoint is a single templated HTTP operation.
type Endpoint struct {
	Method   string
	Path     string
	Request  RequestTemplate
	Response ResponseSpec
}

// History controls replay of prior turns in send_message requests.
type History struct {
	Enabled bool
	// MaxMessages bounds the replayed turns. Zero means unbounded.
	MaxMessages int
}

// Descriptor is the validated, immutable description of a provider.
type Descriptor struct {
	ID         string
	Label      string
	BaseURL    string
	CACertPath string
	Adapter    string
	AuthMode   string

	Capabilities map[Capability]bool
	Endpoints    map[Operation]Endpoint
	Models       []Model
	History      History
	UserFields   map[string]UserField

	// Source is the file the descriptor was loaded from, if any.
	Source string
}

// Supports reports whether the descriptor declares capability c.
func (d *Descriptor) Supports(c Capability) bool {
	return d.Capabilities[c]
}

// Endpoint returns the template for op. It reports false when the endpoint
// is missing or has no path.
func (d *Descriptor) Endpoint(op Operation) (Endpoint, bool) {
	ep, ok := d.Endpoints[op]
	if !ok || ep.Path == "" {
		return Endpoint{}, false
	}
	return ep, true
}

// RequiresAuth reports whether users must supply a credential for d.
func (d *Descriptor) RequiresAuth() bool {
	return d.AuthMode != "" && d.AuthMode != AuthModeNone
}

// ModelRef is a parsed model reference: a provider and an optional model.
type ModelRef struct {
	ProviderID string
	// ModelID is empty when no model override applies.
	ModelID string
}

// String returns "provider:model", or the bare provider id when ModelID is empty.
func (r ModelRef) String() string {
	if r.ModelID == "" {
		return r.ProviderID
	}
	return r.ProviderID + ":" + r.ModelID
}
