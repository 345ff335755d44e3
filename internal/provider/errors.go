package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for descriptor loading.
var (
	// ErrInvalidDescriptor matches every ConfigValidationError.
	ErrInvalidDescriptor = errors.New("invalid provider descriptor")

	// ErrDuplicateProvider indicates two descriptors share the same id.
	ErrDuplicateProvider = errors.New("duplicate provider id")
)

// ConfigValidationError reports a descriptor that was rejected. The provider
// is excluded from the registry; loading continues with the next document.
type ConfigValidationError struct {
	Path       string
	ProviderID string
	Reason     string
}

func (e *ConfigValidationError) Error() string {
	switch {
	case e.ProviderID != "" && e.Path != "":
		return fmt.Sprintf("provider %s (%s): %s", e.ProviderID, e.Path, e.Reason)
	case e.ProviderID != "":
		return fmt.Sprintf("provider %s: %s", e.ProviderID, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("provider descriptor %s: %s", e.Path, e.Reason)
	default:
		return "provider descriptor: " + e.Reason
	}
}

// Is makes errors.Is(err, ErrInvalidDescriptor) match.
func (e *ConfigValidationError) Is(target error) bool {
	return target == ErrInvalidDescriptor
}
