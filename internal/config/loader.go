package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// varPattern matches ${NAME} and ${NAME:-fallback}. A fallback may contain
// escaped braces.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads path, expands variables and decodes it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands variables in raw and decodes the result. Unknown top-level
// keys are rejected; module sections are decoded later by their modules.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandVars(raw, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return &cfg, nil
}

// expandVars substitutes every variable reference using lookup. All
// variables without a value or fallback are reported together, each once.
func expandVars(raw []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		sub := varPattern.FindSubmatch(match)
		name := string(sub[1])
		if v, ok := lookup(name); ok {
			return []byte(v)
		}
		if sub[2] != nil {
			return sub[2]
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
