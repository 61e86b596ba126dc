// Package catalog fetches remote asset manifests (catalogs) from the active
// mirror and keeps a local copy of the most recent one on disk.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BadgerOps/mirrorswitch/internal/safety"
)

const (
	defaultRetryAttempts       = 3
	defaultMaxBytes      int64 = 64 * 1024 * 1024
	defaultFetchTimeout        = 60 * time.Second
)

// ErrNotInitialized is returned when a manifest is requested before Initialize.
var ErrNotInitialized = errors.New("catalog loader not initialized")

// Manifest is a handle to a fetched catalog.
type Manifest struct {
	URL       string    `json:"url"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Options configures a Loader.
type Options struct {
	CacheDir      string
	RetryAttempts int   // 0 defaults to 3
	MaxBytes      int64 // 0 defaults to 64MiB
	Timeout       time.Duration
}

// Loader downloads manifests with retry and caches them under CacheDir.
type Loader struct {
	httpClient    *http.Client
	logger        *slog.Logger
	clock         clock.Clock
	userAgent     string
	cacheDir      string
	retryAttempts int
	maxBytes      int64
	backoffFunc   func(attempt int) time.Duration

	mu      sync.Mutex
	ready   bool
	current *Manifest
}

// NewLoader creates a Loader with the given options.
func NewLoader(opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	return &Loader{
		httpClient:    safety.NewHTTPClient(opts.Timeout),
		logger:        logger,
		clock:         clock.New(),
		userAgent:     "mirrorswitch/1.0",
		cacheDir:      opts.CacheDir,
		retryAttempts: opts.RetryAttempts,
		maxBytes:      opts.MaxBytes,
		backoffFunc:   calculateBackoffDelay,
	}
}

// Initialize prepares the cache directory. Calling it again is a no-op.
func (l *Loader) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.cacheDir != "" {
		if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
			return fmt.Errorf("creating catalog cache dir %s: %w", l.cacheDir, err)
		}
	}
	l.ready = true
	l.logger.Debug("catalog loader initialized", "cache_dir", l.cacheDir)
	return nil
}

// Current returns the most recently loaded manifest, or nil.
func (l *Loader) Current() *Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	m := *l.current
	return &m
}

// Restore makes m the current manifest again, undoing a load whose
// activation was abandoned. A nil m clears the current manifest.
func (l *Loader) Restore(m *Manifest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m == nil {
		l.current = nil
		return
	}
	cp := *m
	l.current = &cp
	l.logger.Debug("catalog restored", "url", m.URL)
}

// LoadManifest fetches the catalog at url, retrying transient failures with
// exponential backoff. The previously loaded manifest stays current unless
// the fetch succeeds.
func (l *Loader) LoadManifest(ctx context.Context, url string) (*Manifest, error) {
	l.mu.Lock()
	ready := l.ready
	l.mu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= l.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("catalog load cancelled: %w", err)
		}

		data, err := l.fetch(ctx, url)
		if err == nil {
			m, err := l.store(url, data)
			if err != nil {
				return nil, err
			}
			l.logger.Info("catalog loaded", "url", url, "size", m.Size, "sha256", m.SHA256, "attempts", attempt)
			return m, nil
		}

		lastErr = err
		l.logger.Warn("catalog fetch attempt failed", "url", url, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			return nil, err
		}

		if attempt < l.retryAttempts {
			delay := l.backoffFunc(attempt)
			l.logger.Debug("retrying catalog fetch", "url", url, "delay", delay)
			select {
			case <-l.clock.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("catalog load cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("catalog load failed after %d attempts: %w", l.retryAttempts, lastErr)
}

// PurgeLocalCache removes cached catalogs other than the current one.
func (l *Loader) PurgeLocalCache(ctx context.Context) error {
	if l.cacheDir == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var keep []string
	if cur := l.Current(); cur != nil && cur.Path != "" {
		keep = append(keep, filepath.Base(cur.Path))
	}
	n, err := safety.EmptyDir(l.cacheDir, keep...)
	if err != nil {
		return fmt.Errorf("purging catalog cache: %w", err)
	}
	l.logger.Info("catalog cache purged", "dir", l.cacheDir, "removed", n)
	return nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	data, err := safety.ReadAllWithLimit(resp.Body, l.maxBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("catalog exceeded %d bytes: %w", l.maxBytes, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyCatalog
	}
	return data, nil
}

// store writes data under the cache dir and makes it current.
func (l *Loader) store(url string, data []byte) (*Manifest, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	m := &Manifest{
		URL:       url,
		SHA256:    digest,
		Size:      int64(len(data)),
		FetchedAt: l.clock.Now(),
	}

	if l.cacheDir != "" {
		path, err := safety.SafeJoinUnder(l.cacheDir, digest+".catalog")
		if err != nil {
			return nil, err
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return nil, fmt.Errorf("writing catalog: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("finalizing catalog: %w", err)
		}
		m.Path = path
	}

	l.mu.Lock()
	l.current = m
	l.mu.Unlock()

	out := *m
	return &out, nil
}

var errEmptyCatalog = errors.New("catalog is empty")

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 500ms, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := 500 * time.Millisecond
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	if errors.Is(err, errEmptyCatalog) || errors.Is(err, safety.ErrBodyTooLarge) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}
