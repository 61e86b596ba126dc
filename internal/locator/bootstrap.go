package locator

import (
	"context"
	"time"

	"github.com/BadgerOps/mirrorswitch/internal/mirror"
)

// BootstrapConfig is the startup input taken from configuration.
type BootstrapConfig struct {
	Enabled bool
	Remotes []mirror.Mirror
	Tries   int
	Timeout time.Duration
}

// Bootstrap registers the configured remotes and activates a mirror.
//
// With PermanentRemote set, a persisted selection that is still registered
// is activated without racing. Otherwise the mirrors are raced; if no mirror
// answers, the persisted selection is tried as a fallback. A failed
// bootstrap leaves identifiers unmodified.
func (s *Service) Bootstrap(ctx context.Context, cfg BootstrapConfig) ActivationResult {
	s.SetStatus(cfg.Enabled)
	if !cfg.Enabled {
		s.logger.Info("remote mirrors disabled by configuration")
		return failed("", ErrGloballyDisabled)
	}

	registered := 0
	for _, m := range cfg.Remotes {
		if s.Register(m) {
			registered++
		}
	}
	s.logger.Info("mirrors registered", "configured", len(cfg.Remotes), "registered", registered)

	persisted := s.loadPersisted(ctx)
	if _, ok := s.registry.Lookup(persisted); !ok && persisted != "" {
		s.logger.Info("persisted mirror no longer registered", "remote_url", persisted)
		persisted = ""
	}

	if s.permanent && persisted != "" {
		res := s.ActivateURL(ctx, persisted)
		if res.Success {
			return res
		}
		s.logger.Warn("persisted mirror could not be activated, selecting again", "remote_url", persisted, "error", res.Err)
		persisted = ""
	}

	res := s.SelectAndActivate(ctx, cfg.Tries, cfg.Timeout)
	if res.Success || persisted == "" {
		return res
	}

	s.logger.Info("falling back to persisted mirror", "remote_url", persisted)
	fallback := s.ActivateURL(ctx, persisted)
	if !fallback.Success {
		return res
	}
	return fallback
}
