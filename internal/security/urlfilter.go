package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned when a provider base URL is denied by the filter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig restricts which hosts provider descriptors may target.
type URLFilterConfig struct {
	// AllowDomains lists permitted domains; subdomains match. Empty means
	// every host is allowed unless denied.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains takes precedence over AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`
}

// URLFilter checks provider base URLs against allow and deny lists.
type URLFilter struct {
	allow []string
	deny  []string
}

// NewURLFilter creates a filter from cfg.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{allow: normalizeDomains(cfg.AllowDomains), deny: normalizeDomains(cfg.DenyDomains)}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check returns nil when rawURL is an http(s) URL whose host passes the filter.
func (f *URLFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrURLBlocked, parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}
	if len(f.allow) == 0 {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// matchDomain reports whether host equals domain or is a subdomain of it.
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
