// Package security provides log redaction, credential masking for outbound
// provider requests, and inbound message guards.
package security

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// minLiteralLen is the shortest literal worth redacting. Shorter values
// would blank out ordinary words in log lines.
const minLiteralLen = 6

// Redactor replaces secret values in strings with RedactPlaceholder.
// It matches known credential formats by pattern and user-supplied field
// values by literal. All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a compiled regex pattern to the redactor.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral registers a secret value that should be redacted on sight.
// Values shorter than six bytes and duplicates are ignored. A nil Redactor
// ignores everything.
func (r *Redactor) AddLiteral(secret string) {
	if r == nil || len(secret) < minLiteralLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.literals, secret) {
		return
	}
	r.literals = append(r.literals, secret)
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	// Literals first: a pattern replacement could split a literal.
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// DefaultPatterns returns compiled patterns for credentials commonly seen
// in provider traffic.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Authorization: Bearer <token>
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`),
		// Cookie session identifiers.
		regexp.MustCompile(`(?i)sessionid=[^;\s"]{8,}`),
		// OpenAI style keys.
		regexp.MustCompile(`sk-[a-zA-Z0-9\-_]{20,}`),
		// Telegram bot tokens.
		regexp.MustCompile(`\b[0-9]{8,10}:[A-Za-z0-9_\-]{35}\b`),
	}
}
