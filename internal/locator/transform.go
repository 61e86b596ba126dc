package locator

import (
	"strings"

	"github.com/BadgerOps/mirrorswitch/internal/metrics"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
)

// ShouldTransform reports whether loc is eligible for rewriting: a mirror
// is active, rewriting is enabled and the identifier does not already point
// at the active mirror.
func (s *Service) ShouldTransform(loc resolve.Location) bool {
	_, ok := s.eligible(loc)
	return ok
}

func (s *Service) eligible(loc resolve.Location) (*activation, bool) {
	if !s.enabled.Load() {
		return nil, false
	}
	cur := s.state.Load()
	if cur == nil || cur.mirror.RemoteURL == "" {
		return nil, false
	}
	if loc.InternalID == "" || indexFold(loc.InternalID, cur.mirror.RemoteURL) >= 0 {
		return nil, false
	}
	return cur, true
}

// Transform rewrites loc's internal identifier so it resolves against the
// active mirror. The first registered mirror, in registration order, whose
// remote URL occurs in the identifier (case-insensitively) is replaced by
// the active mirror's remote URL. Results, including identifiers left
// unchanged, are cached per location until the active mirror changes.
func (s *Service) Transform(loc resolve.Location) string {
	cur, ok := s.eligible(loc)
	if !ok {
		s.metrics.ObserveRewrite(metrics.RewriteBypass)
		return loc.InternalID
	}

	if id, hit := s.cache.get(cur.epoch, loc); hit {
		s.metrics.ObserveRewrite(metrics.RewriteHit)
		return id
	}
	s.metrics.ObserveRewrite(metrics.RewriteMiss)

	id := loc.InternalID
	for _, m := range s.registry.List() {
		if !m.Enabled || m.RemoteURL == "" {
			continue
		}
		if indexFold(id, m.RemoteURL) < 0 {
			continue
		}
		id = replaceFold(id, m.RemoteURL, cur.mirror.RemoteURL)
		s.logger.Debug("identifier rewritten", "from", loc.InternalID, "to", id, "matched", m.RemoteURL)
		break
	}

	s.cache.put(cur.epoch, loc, id)
	return id
}

// indexFold is strings.Index with ASCII case folding.
func indexFold(s, substr string) int {
	n := len(substr)
	if n == 0 || n > len(s) {
		return -1
	}
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// replaceFold replaces every case-insensitive occurrence of old in s.
func replaceFold(s, old, replacement string) string {
	var b strings.Builder
	for {
		i := indexFold(s, old)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(replacement)
		s = s[i+len(old):]
	}
}
