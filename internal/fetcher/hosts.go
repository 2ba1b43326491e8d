package fetcher

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HostMatcher decides which upstream hosts images may be fetched from.
// Patterns are glob expressions matched against the lower-cased host name,
// e.g. "cdn.example.com" or "*.amazonaws.com". An empty matcher allows every host.
type HostMatcher struct {
	patterns []string
}

// NewHostMatcher validates the patterns up front so a typo fails at startup.
func NewHostMatcher(patterns []string) (*HostMatcher, error) {
	m := &HostMatcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid host pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Allowed reports whether host may be fetched from.
func (m *HostMatcher) Allowed(host string) bool {
	if m == nil || len(m.patterns) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, host); ok {
			return true
		}
	}
	return false
}
