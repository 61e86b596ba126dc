// Package locator switches content resolution between CDN mirrors.
//
// A Service owns the mirror registry, the activation state and the rewrite
// cache. Activating a mirror reloads its catalog and installs a transform on
// the resolution boundary; from then on every resolved identifier that
// points at a registered mirror is rewritten to the active one.
package locator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/BadgerOps/mirrorswitch/internal/catalog"
	"github.com/BadgerOps/mirrorswitch/internal/metrics"
	"github.com/BadgerOps/mirrorswitch/internal/mirror"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
	"github.com/BadgerOps/mirrorswitch/internal/store"
)

// SelectionKey is the persistence key holding the active mirror's remote URL.
const SelectionKey = "active_remote_url"

const persistTimeout = 5 * time.Second

// ManifestLoader fetches catalogs for the active mirror.
type ManifestLoader interface {
	Initialize(ctx context.Context) error
	LoadManifest(ctx context.Context, url string) (*catalog.Manifest, error)
	Current() *catalog.Manifest
	Restore(m *catalog.Manifest)
	PurgeLocalCache(ctx context.Context) error
}

// HookInstaller receives the identifier transform. A nil transform removes it.
type HookInstaller interface {
	SetIDTransform(fn resolve.TransformFunc)
}

// Persistence is durable string key/value storage.
type Persistence interface {
	Save(ctx context.Context, key, value string) error
	Load(ctx context.Context, key string) (string, bool, error)
}

// ActivationRecorder is implemented by persistence backends that keep an
// activation history.
type ActivationRecorder interface {
	RecordActivation(ctx context.Context, a *store.Activation) error
}

// Selector races endpoints.
type Selector interface {
	SelectFastest(ctx context.Context, urls []string, tries int, timeout time.Duration) mirror.SelectResult
}

// Phase is the activation lifecycle state.
type Phase string

const (
	PhaseInactive   Phase = "inactive"
	PhaseActivating Phase = "activating"
	PhaseActive     Phase = "active"
)

// Options wires a Service to its collaborators. Every field is optional.
type Options struct {
	Loader      ManifestLoader
	Hooks       HookInstaller
	Persistence Persistence
	Selector    Selector
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// LocalMode skips the local cache purge because nothing is fetched
	// from a real remote.
	LocalMode bool
	// PermanentRemote keeps the first activated mirror for the process
	// lifetime: later selections return it without racing.
	PermanentRemote bool
}

// activation is an immutable snapshot of the active mirror.
type activation struct {
	mirror      mirror.Mirror
	catalogURL  string
	epoch       uint64
	epochID     string
	activatedAt time.Time
}

// Service is the mirror location service. It is safe for concurrent use;
// activations and removals are serialized internally.
type Service struct {
	registry *mirror.Registry
	cache    *rewriteCache

	loader      ManifestLoader
	hooks       HookInstaller
	persistence Persistence
	selector    Selector
	metrics     *metrics.Metrics
	logger      *slog.Logger
	localMode   bool
	permanent   bool

	// mu serializes state transitions.
	mu    sync.Mutex
	epoch uint64

	state         atomic.Pointer[activation]
	phase         atomic.Value // Phase
	enabled       atomic.Bool
	hookInstalled atomic.Bool
}

// New creates a Service with global rewriting enabled and no active mirror.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry:    mirror.NewRegistry(),
		cache:       newRewriteCache(),
		loader:      opts.Loader,
		hooks:       opts.Hooks,
		persistence: opts.Persistence,
		selector:    opts.Selector,
		metrics:     opts.Metrics,
		logger:      logger,
		localMode:   opts.LocalMode,
		permanent:   opts.PermanentRemote,
	}
	s.phase.Store(PhaseInactive)
	s.enabled.Store(true)
	return s
}

// SetStatus turns identifier rewriting on or off. It never changes the
// activation state or the cache.
func (s *Service) SetStatus(enabled bool) {
	s.enabled.Store(enabled)
	s.logger.Info("remote rewriting status changed", "enabled", enabled)
}

// Enabled reports the global rewriting toggle.
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// Register adds or replaces a mirror. Disabled mirrors are ignored.
func (s *Service) Register(m mirror.Mirror) bool {
	ok := s.registry.Register(m)
	if ok {
		s.logger.Debug("mirror registered", "name", m.Name, "remote_url", m.RemoteURL)
	}
	return ok
}

// Remove unregisters the mirror with remoteURL. Removing the active mirror
// deactivates it before the entry disappears.
func (s *Service) Remove(remoteURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.state.Load(); cur != nil && mirror.Key(cur.mirror.RemoteURL) == mirror.Key(remoteURL) {
		s.commit(nil)
		s.logger.Info("active mirror removed, rewriting deactivated", "remote_url", cur.mirror.RemoteURL)
		s.persist(context.Background(), "")
	}
	return s.registry.Remove(remoteURL)
}

// RemoveMirror unregisters m by its remote URL.
func (s *Service) RemoveMirror(m mirror.Mirror) bool {
	return s.Remove(m.RemoteURL)
}

// Lookup returns the registered mirror for remoteURL.
func (s *Service) Lookup(remoteURL string) (mirror.Mirror, bool) {
	return s.registry.Lookup(remoteURL)
}

// Mirrors lists registered mirrors in registration order.
func (s *Service) Mirrors() []mirror.Mirror {
	return s.registry.List()
}

// Active returns the active mirror.
func (s *Service) Active() (mirror.Mirror, bool) {
	cur := s.state.Load()
	if cur == nil {
		return mirror.Mirror{}, false
	}
	return cur.mirror, true
}

// State is a point-in-time view of the service.
type State struct {
	Phase         Phase          `json:"phase"`
	Active        bool           `json:"active"`
	ActiveMirror  *mirror.Mirror `json:"active_mirror,omitempty"`
	CatalogURL    string         `json:"catalog_url,omitempty"`
	EpochID       string         `json:"epoch_id,omitempty"`
	ActivatedAt   time.Time      `json:"activated_at,omitempty"`
	Enabled       bool           `json:"enabled"`
	HookInstalled bool           `json:"hook_installed"`
	CachedEntries int            `json:"cached_entries"`
	Mirrors       int            `json:"mirrors"`
}

// Snapshot returns the current State.
func (s *Service) Snapshot() State {
	st := State{
		Phase:         s.phase.Load().(Phase),
		Enabled:       s.enabled.Load(),
		CachedEntries: s.cache.len(),
		Mirrors:       s.registry.Len(),
		HookInstalled: s.hookInstalled.Load(),
	}

	if cur := s.state.Load(); cur != nil {
		m := cur.mirror
		st.Active = true
		st.ActiveMirror = &m
		st.CatalogURL = cur.catalogURL
		st.EpochID = cur.epochID
		st.ActivatedAt = cur.activatedAt
	}
	return st
}

// commit installs next as the active state and drops the rewrite cache in
// one step. Callers hold s.mu.
func (s *Service) commit(next *activation) {
	s.epoch++
	epoch := s.epoch
	if next != nil {
		next.epoch = epoch
	}
	s.cache.reset(epoch, func() {
		s.state.Store(next)
	})
	s.metrics.ObserveCacheReset()
	if next != nil {
		s.phase.Store(PhaseActive)
	} else {
		s.phase.Store(PhaseInactive)
	}
}

// persist saves the selection; failures are logged and ignored.
func (s *Service) persist(ctx context.Context, remoteURL string) {
	if s.persistence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.persistence.Save(ctx, SelectionKey, remoteURL); err != nil {
		s.logger.Warn("failed to persist mirror selection", "remote_url", remoteURL, "error", err)
	}
}

// loadPersisted returns the persisted selection, treating errors as no selection.
func (s *Service) loadPersisted(ctx context.Context) string {
	if s.persistence == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	v, ok, err := s.persistence.Load(ctx, SelectionKey)
	if err != nil {
		s.logger.Warn("failed to load persisted mirror selection", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// PersistedURL returns the remote URL saved by the last activation, or ""
// when nothing is persisted.
func (s *Service) PersistedURL(ctx context.Context) string {
	return s.loadPersisted(ctx)
}

func (s *Service) record(ctx context.Context, a *store.Activation) {
	rec, ok := s.persistence.(ActivationRecorder)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := rec.RecordActivation(ctx, a); err != nil {
		s.logger.Warn("failed to record activation", "remote_url", a.RemoteURL, "error", err)
	}
}

// Close removes the installed transform, forgets all mirrors and closes the
// persistence backend when it is closable.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hookInstalled.Load() && s.hooks != nil {
		s.hooks.SetIDTransform(nil)
	}
	s.hookInstalled.Store(false)
	s.commit(nil)
	s.registry.Clear()

	var err error
	if c, ok := s.persistence.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := s.loader.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
