package mirror

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/mirrorswitch/internal/metrics"
)

const defaultRaceTimeout = 5 * time.Second

// Racer fans probes out across candidate URLs and picks the fastest success.
type Racer struct {
	prober  Prober
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRacer creates a Racer using the given prober.
func NewRacer(prober Prober, m *metrics.Metrics, logger *slog.Logger) *Racer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Racer{
		prober:  prober,
		metrics: m,
		logger:  logger,
	}
}

// SelectFastest races urls for up to tries rounds. Every probe of a round
// shares one deadline and the round ends only when all of them have settled.
// All rounds run and the lowest elapsed time of any successful probe wins.
// Ties on elapsed time go to the URL listed first, then to the earlier round.
// An empty url list fails without probing. Cancelling ctx stops further
// rounds and keeps the best result found so far.
func (r *Racer) SelectFastest(ctx context.Context, urls []string, tries int, timeout time.Duration) SelectResult {
	result := SelectResult{}
	if len(urls) == 0 {
		r.metrics.ObserveSelection(false, 0)
		return result
	}
	if tries < 1 {
		tries = 1
	}
	if timeout <= 0 {
		timeout = defaultRaceTimeout
	}

	bestIdx := -1
	for round := 1; round <= tries; round++ {
		if ctx.Err() != nil {
			break
		}
		result.Rounds = round

		probes := r.runRound(ctx, urls, timeout)
		result.Probes += len(probes)

		for i, p := range probes {
			if !p.Success {
				continue
			}
			if bestIdx == -1 || p.Elapsed < result.Elapsed || (p.Elapsed == result.Elapsed && i < bestIdx) {
				bestIdx = i
				result.URL = urls[i]
				result.Elapsed = p.Elapsed
				result.Success = true
			}
		}

		r.logger.Debug("race round finished", "round", round, "tries", tries, "best", result.URL, "best_elapsed", result.Elapsed)
	}

	r.metrics.ObserveSelection(result.Success, result.Rounds)
	if result.Success {
		r.logger.Info("fastest endpoint selected", "url", result.URL, "elapsed", result.Elapsed, "rounds", result.Rounds)
	} else {
		r.logger.Warn("no endpoint reachable", "candidates", len(urls), "rounds", result.Rounds)
	}
	return result
}

// runRound probes every url concurrently under one shared deadline and
// returns results indexed like urls.
func (r *Racer) runRound(ctx context.Context, urls []string, timeout time.Duration) []ProbeResult {
	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]ProbeResult, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			res := r.prober.Probe(roundCtx, u, timeout)
			// A probe that outlives the shared deadline does not count.
			if roundCtx.Err() != nil && res.Success {
				res.Success = false
				res.Error = roundCtx.Err().Error()
			}
			r.metrics.ObserveProbe(res.Success, res.Elapsed)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
