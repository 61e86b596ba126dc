package mirror

import (
	"strings"
	"time"
)

// Mirror is one alternate content-delivery endpoint. Its identity is
// RemoteURL, compared case-insensitively.
type Mirror struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	TestURL     string `json:"test_url" yaml:"test_url" toml:"test_url"`
	RemoteURL   string `json:"remote_url" yaml:"remote_url" toml:"remote_url"`
	CatalogName string `json:"catalog_name" yaml:"catalog_name" toml:"catalog_name"`
}

// Key returns the registry key for the mirror.
func (m Mirror) Key() string {
	return Key(m.RemoteURL)
}

// ProbeURL returns the URL used to measure the mirror's latency.
func (m Mirror) ProbeURL() string {
	if m.TestURL != "" {
		return m.TestURL
	}
	return m.RemoteURL
}

// SameIdentity reports whether both mirrors share a remote URL.
func (m Mirror) SameIdentity(other Mirror) bool {
	return strings.EqualFold(m.RemoteURL, other.RemoteURL)
}

// Key normalizes a remote URL into a registry key.
func Key(remoteURL string) string {
	return strings.ToLower(strings.TrimSpace(remoteURL))
}

// ProbeResult holds the outcome of a single reachability probe.
type ProbeResult struct {
	URL     string        `json:"url"`
	Success bool          `json:"success"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// SelectResult is the outcome of racing a set of endpoints.
type SelectResult struct {
	URL     string        `json:"url"`
	Success bool          `json:"success"`
	Elapsed time.Duration `json:"elapsed"`
	Rounds  int           `json:"rounds"`
	Probes  int           `json:"probes"`
}
