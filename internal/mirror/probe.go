package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BadgerOps/mirrorswitch/internal/safety"
)

const (
	defaultProbeTimeout = 5 * time.Second
	userAgent           = "mirrorswitch/1.0"
)

// Prober measures reachability and latency of a single URL.
// Implementations must never panic or return a fault: every failure is
// reported as Success=false.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) ProbeResult
}

// HTTPProber issues HEAD requests and falls back to GET when the endpoint
// rejects HEAD.
type HTTPProber struct {
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger
}

// NewHTTPProber creates a prober backed by the hardened safety client.
func NewHTTPProber(logger *slog.Logger) *HTTPProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client: safety.NewHTTPClient(0),
		clock:  clock.New(),
		logger: logger,
	}
}

// WithClock replaces the clock used to measure elapsed time.
func (p *HTTPProber) WithClock(c clock.Clock) *HTTPProber {
	p.clock = c
	return p
}

// WithClient replaces the underlying HTTP client.
func (p *HTTPProber) WithClient(c *http.Client) *HTTPProber {
	p.client = c
	return p
}

// Probe performs one timeout-bounded request against url.
func (p *HTTPProber) Probe(ctx context.Context, url string, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.clock.Now()
	err := p.do(reqCtx, http.MethodHead, url)
	if isMethodNotAllowed(err) {
		err = p.do(reqCtx, http.MethodGet, url)
	}
	elapsed := p.clock.Since(start)

	if err != nil {
		p.logger.Debug("probe failed", "url", url, "elapsed", elapsed, "error", err)
		return ProbeResult{URL: url, Elapsed: elapsed, Error: err.Error()}
	}
	p.logger.Debug("probe succeeded", "url", url, "elapsed", elapsed)
	return ProbeResult{URL: url, Success: true, Elapsed: elapsed}
}

func (p *HTTPProber) do(ctx context.Context, method, url string) error {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return fmt.Errorf("invalid probe URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return nil
}

// StatusError reports an HTTP status that counts as an unreachable endpoint.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

func isMethodNotAllowed(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == http.StatusMethodNotAllowed
}
