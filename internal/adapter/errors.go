package adapter

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/flemzord/rolegate/internal/provider"
)

// Sentinel errors returned by the adapter.
var (
	// ErrUnknownProvider indicates the model reference selects a provider id
	// that is not registered.
	ErrUnknownProvider = errors.New("adapter: unknown provider")

	// ErrEndpointNotConfigured indicates the descriptor has no path for the
	// requested operation.
	ErrEndpointNotConfigured = errors.New("adapter: endpoint not configured")

	// ErrUnknownField indicates a template references a user field the
	// provider does not declare.
	ErrUnknownField = errors.New("adapter: unknown user field")

	// ErrCapabilityUnsupported matches every CapabilityError.
	ErrCapabilityUnsupported = errors.New("adapter: capability not supported")

	// ErrStreamEmpty indicates a streamed response produced no content.
	ErrStreamEmpty = errors.New("adapter: stream response empty")

	// ErrMissingContent indicates a send_message response had no content at
	// the configured path.
	ErrMissingContent = errors.New("adapter: response missing content")

	// ErrMissingSessionID indicates a create_session response had no session
	// id at the configured path.
	ErrMissingSessionID = errors.New("adapter: response missing session id")

	// ErrUnexpectedResponse indicates a response whose shape does not match
	// the endpoint's extraction rules.
	ErrUnexpectedResponse = errors.New("adapter: unexpected response shape")
)

// maxErrorBody bounds the response excerpt carried in TransportError messages.
const maxErrorBody = 512

// CapabilityError reports an operation the provider does not declare.
type CapabilityError struct {
	ProviderID string
	Capability provider.Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("adapter: provider %s does not support %s", e.ProviderID, e.Capability)
}

// Is makes errors.Is(err, ErrCapabilityUnsupported) match.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityUnsupported
}

// MissingUserFieldError signals that a template needs a user field value
// that has not been supplied yet. RoleID is the role the value must be
// stored under, nil for provider-scoped fields.
type MissingUserFieldError struct {
	ProviderID string
	Field      provider.UserField
	RoleID     *int64
}

func (e *MissingUserFieldError) Error() string {
	if e.RoleID != nil {
		return fmt.Sprintf("adapter: missing user field %s (scope %s, role %d) for provider %s",
			e.Field.Key, e.Field.Scope, *e.RoleID, e.ProviderID)
	}
	return fmt.Sprintf("adapter: missing user field %s (scope %s) for provider %s",
		e.Field.Key, e.Field.Scope, e.ProviderID)
}

// AsMissingUserField extracts a MissingUserFieldError from err's chain.
func AsMissingUserField(err error) (*MissingUserFieldError, bool) {
	var mf *MissingUserFieldError
	if errors.As(err, &mf) {
		return mf, true
	}
	return nil, false
}

// TransportError is an HTTP-layer failure: either a non-2xx status
// (StatusCode and Body set) or a connection failure (Err set).
type TransportError struct {
	ProviderID string
	Operation  provider.Operation
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adapter: %s %s: %v", e.ProviderID, e.Operation, e.Err)
	}
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("adapter: %s %s: HTTP %d: %s", e.ProviderID, e.Operation, e.StatusCode, body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries an HTTP 404 TransportError.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err carries an HTTP 401 TransportError.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == status
}
