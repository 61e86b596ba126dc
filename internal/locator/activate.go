package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/mirrorswitch/internal/mirror"
	"github.com/BadgerOps/mirrorswitch/internal/safety"
	"github.com/BadgerOps/mirrorswitch/internal/store"
)

// ActivationResult describes the outcome of an activation.
type ActivationResult struct {
	Success    bool   `json:"success"`
	URL        string `json:"url"`
	CatalogURL string `json:"catalog_url,omitempty"`
	Noop       bool   `json:"noop,omitempty"`
	EpochID    string `json:"epoch_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

func failed(url string, err error) ActivationResult {
	return ActivationResult{URL: url, Err: err, Error: err.Error()}
}

// ActivateURL activates the registered mirror with remoteURL.
func (s *Service) ActivateURL(ctx context.Context, remoteURL string) ActivationResult {
	m, res, ok := s.lookupForActivation(remoteURL)
	if !ok {
		return res
	}
	return s.activate(ctx, m, false)
}

// ActivateSelection activates the winner of a selection race. When
// PermanentRemote is set and a mirror is already active, that mirror is kept
// and the result is a noop.
func (s *Service) ActivateSelection(ctx context.Context, remoteURL string) ActivationResult {
	m, res, ok := s.lookupForActivation(remoteURL)
	if !ok {
		return res
	}
	return s.activate(ctx, m, true)
}

func (s *Service) lookupForActivation(remoteURL string) (mirror.Mirror, ActivationResult, bool) {
	if strings.TrimSpace(remoteURL) == "" {
		s.metrics.ObserveActivation("failure")
		return mirror.Mirror{}, failed(remoteURL, ErrEmptyURL), false
	}
	m, ok := s.registry.Lookup(remoteURL)
	if !ok {
		s.metrics.ObserveActivation("failure")
		return mirror.Mirror{}, failed(remoteURL, fmt.Errorf("%w: %s", ErrNotFound, remoteURL)), false
	}
	return m, ActivationResult{}, true
}

// RetainedSelection returns the active mirror as a noop result when
// PermanentRemote forbids replacing it through selection.
func (s *Service) RetainedSelection() (ActivationResult, bool) {
	if !s.permanent {
		return ActivationResult{}, false
	}
	cur := s.state.Load()
	if cur == nil {
		return ActivationResult{}, false
	}
	return noopResult(cur), true
}

func noopResult(cur *activation) ActivationResult {
	return ActivationResult{
		Success:    true,
		URL:        cur.mirror.RemoteURL,
		CatalogURL: cur.catalogURL,
		EpochID:    cur.epochID,
		Noop:       true,
	}
}

// Activate makes m the active mirror. Either every step succeeds and the
// new state is committed, or the previous state is left untouched.
// Activating the already active mirror succeeds without reloading anything.
func (s *Service) Activate(ctx context.Context, m mirror.Mirror) ActivationResult {
	return s.activate(ctx, m, false)
}

func (s *Service) activate(ctx context.Context, m mirror.Mirror, retainPermanent bool) ActivationResult {
	if !m.Enabled {
		s.metrics.ObserveActivation("failure")
		return failed(m.RemoteURL, fmt.Errorf("%w: %s", ErrDisabled, m.RemoteURL))
	}
	if strings.TrimSpace(m.RemoteURL) == "" {
		s.metrics.ObserveActivation("failure")
		return failed(m.RemoteURL, ErrEmptyURL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Load()
	if prev != nil && prev.mirror.SameIdentity(m) {
		s.metrics.ObserveActivation("noop")
		s.logger.Debug("mirror already active", "remote_url", m.RemoteURL)
		return noopResult(prev)
	}
	if prev != nil && retainPermanent && s.permanent {
		s.metrics.ObserveActivation("noop")
		s.logger.Debug("permanent remote active, keeping it", "remote_url", prev.mirror.RemoteURL, "selected", m.RemoteURL)
		return noopResult(prev)
	}

	s.phase.Store(PhaseActivating)
	start := time.Now()
	next := &activation{
		mirror:     m,
		catalogURL: safety.JoinURL(m.RemoteURL, m.CatalogName),
		epochID:    uuid.NewString(),
	}
	log := s.logger.With("remote_url", m.RemoteURL, "epoch_id", next.epochID)
	log.Info("activating mirror", "catalog_url", next.catalogURL)

	if err := s.prepare(ctx, next); err != nil {
		if prev != nil {
			s.phase.Store(PhaseActive)
		} else {
			s.phase.Store(PhaseInactive)
		}
		s.metrics.ObserveActivation("failure")
		log.Warn("mirror activation failed", "error", err)
		s.record(ctx, &store.Activation{
			EpochID:      next.epochID,
			RemoteURL:    m.RemoteURL,
			CatalogURL:   next.catalogURL,
			Status:       "failed",
			ErrorMessage: err.Error(),
			StartTime:    start,
			EndTime:      time.Now(),
		})
		res := failed(m.RemoteURL, err)
		res.CatalogURL = next.catalogURL
		return res
	}

	if !s.localMode && s.loader != nil {
		if err := s.loader.PurgeLocalCache(context.WithoutCancel(ctx)); err != nil {
			log.Warn("local cache purge failed", "error", err)
		}
	}

	s.persist(ctx, m.RemoteURL)

	if !s.hookInstalled.Load() && s.hooks != nil {
		s.hooks.SetIDTransform(s.Transform)
		s.hookInstalled.Store(true)
		log.Debug("identifier transform installed")
	}

	next.activatedAt = time.Now()
	s.commit(next)
	s.metrics.ObserveActivation("success")

	prevURL := ""
	if prev != nil {
		prevURL = prev.mirror.RemoteURL
	}
	log.Info("mirror activated", "previous", prevURL, "elapsed", time.Since(start))
	s.record(ctx, &store.Activation{
		EpochID:    next.epochID,
		RemoteURL:  m.RemoteURL,
		CatalogURL: next.catalogURL,
		Status:     "success",
		StartTime:  start,
		EndTime:    next.activatedAt,
	})

	return ActivationResult{
		Success:    true,
		URL:        m.RemoteURL,
		CatalogURL: next.catalogURL,
		EpochID:    next.epochID,
	}
}

// prepare performs the external steps that may fail before commit. If it
// fails after the catalog was loaded, the loader's previous manifest is
// restored.
func (s *Service) prepare(ctx context.Context, next *activation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if s.loader != nil {
		if err := s.loader.Initialize(ctx); err != nil {
			return fmt.Errorf("%w: initializing loader: %v", ErrManifestLoad, err)
		}
		if next.catalogURL != "" {
			prevManifest := s.loader.Current()
			if _, err := s.loader.LoadManifest(ctx, next.catalogURL); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w: %v", ErrCancelled, err)
				}
				return fmt.Errorf("%w: %s: %v", ErrManifestLoad, next.catalogURL, err)
			}
			if err := ctx.Err(); err != nil {
				s.loader.Restore(prevManifest)
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// SelectionResult is the outcome of racing the registered mirrors.
type SelectionResult struct {
	Success bool          `json:"success"`
	URL     string        `json:"url"`
	TestURL string        `json:"test_url,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Rounds  int           `json:"rounds"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

// SelectRemote races the enabled mirrors' test URLs and returns the remote
// URL of the fastest one. It does not activate anything.
func (s *Service) SelectRemote(ctx context.Context, tries int, timeout time.Duration) SelectionResult {
	mirrors := s.registry.List()
	urls := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if m.Enabled {
			urls = append(urls, m.ProbeURL())
		}
	}
	if len(urls) == 0 || s.selector == nil {
		return SelectionResult{Err: ErrNoMirrors, Error: ErrNoMirrors.Error()}
	}

	res := s.selector.SelectFastest(ctx, urls, tries, timeout)
	if !res.Success {
		return SelectionResult{Rounds: res.Rounds, Err: ErrUnreachable, Error: ErrUnreachable.Error()}
	}

	for _, m := range mirrors {
		if m.Enabled && m.ProbeURL() == res.URL {
			return SelectionResult{
				Success: true,
				URL:     m.RemoteURL,
				TestURL: res.URL,
				Elapsed: res.Elapsed,
				Rounds:  res.Rounds,
			}
		}
	}
	// The winner was unregistered while the race ran.
	return SelectionResult{Rounds: res.Rounds, Err: ErrNotFound, Error: ErrNotFound.Error()}
}

// SelectAndActivate races the mirrors and activates the winner. With
// PermanentRemote set, an already active mirror is kept and no race runs.
func (s *Service) SelectAndActivate(ctx context.Context, tries int, timeout time.Duration) ActivationResult {
	if kept, ok := s.RetainedSelection(); ok {
		s.logger.Debug("permanent remote active, skipping selection", "remote_url", kept.URL)
		return kept
	}

	sel := s.SelectRemote(ctx, tries, timeout)
	if !sel.Success {
		s.logger.Warn("mirror selection failed", "error", sel.Err)
		return failed("", sel.Err)
	}
	return s.ActivateSelection(ctx, sel.URL)
}
