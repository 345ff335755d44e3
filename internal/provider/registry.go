package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// descriptorExts lists the file extensions LoadRegistry picks up.
var descriptorExts = []string{".json", ".yaml", ".yml"}

// Registry holds validated provider descriptors in registration order.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	providers map[string]*Descriptor
	order     []string
	models    []Model
}

// NewRegistry builds a registry from already-validated descriptors. The
// first descriptor becomes the default provider.
func NewRegistry(descs ...*Descriptor) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if err := r.add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(d *Descriptor) error {
	if _, exists := r.providers[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, d.ID)
	}
	r.providers[d.ID] = d
	r.order = append(r.order, d.ID)
	r.models = append(r.models, d.Models...)
	return nil
}

// LoadRegistry reads every descriptor document in dir in lexical order.
// Invalid documents and duplicate ids are logged and skipped. A missing
// directory yields an empty registry. An error is returned only when the
// directory exists but cannot be read.
func LoadRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{providers: make(map[string]*Descriptor)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("providers directory not found", "dir", dir)
			return r, nil
		}
		return nil, fmt.Errorf("provider: reading %s: %w", dir, err)
	}

	// os.ReadDir returns entries sorted by filename.
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(descriptorExts, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("failed to read provider descriptor", "path", path, "error", err)
			continue
		}
		d, err := ParseDescriptor(path, data, logger)
		if err != nil {
			logger.Error("skipping provider descriptor", "path", path, "error", err)
			continue
		}
		if err := r.add(d); err != nil {
			logger.Error("skipping provider descriptor", "path", path, "error", err)
			continue
		}
	}

	logger.Info("providers loaded", "providers", len(r.order), "models", len(r.models), "dir", dir)
	return r, nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.providers[id]
	return d, ok
}

// Has reports whether id is a registered provider.
func (r *Registry) Has(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// IDs returns provider ids in registration order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

// Descriptors returns descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Models returns the flat model list across all providers.
func (r *Registry) Models() []Model {
	return slices.Clone(r.models)
}

// DefaultID returns the first registered provider id, or "" when empty.
func (r *Registry) DefaultID() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// FindModel returns the model whose full id equals ref.
func (r *Registry) FindModel(ref string) (Model, bool) {
	for _, m := range r.models {
		if m.FullID() == ref {
			return m, true
		}
	}
	return Model{}, false
}

// ParseModelRef splits a model reference. An empty ref selects the default
// provider with no model. "p:m" selects provider p and model m, where an
// empty m means no model. A bare string that names a known provider selects
// it with no model; any other bare string is a model id on the default
// provider.
func ParseModelRef(ref, defaultProvider string, isProvider func(id string) bool) ModelRef {
	if ref == "" {
		return ModelRef{ProviderID: defaultProvider}
	}
	providerID, modelID, found := strings.Cut(ref, ":")
	if !found {
		if isProvider != nil && isProvider(ref) {
			return ModelRef{ProviderID: ref}
		}
		return ModelRef{ProviderID: defaultProvider, ModelID: ref}
	}
	return ModelRef{ProviderID: providerID, ModelID: modelID}
}
