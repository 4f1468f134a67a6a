package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/client"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	matchesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_processed_total",
		Help: "Total match detail records folded into aggregates",
	})

	matchesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_skipped_total",
		Help: "Total match detail fetches that failed and were skipped",
	})
)

// DetailFetcher is the interface the API client implements for per-match
// detail retrieval.
type DetailFetcher interface {
	MatchStats(ctx context.Context, matchID, xuid string) (*halo.MatchStatLine, error)
}

// Config holds batch processor configuration.
type Config struct {
	// BatchSize is the number of match ids grouped per batch.
	BatchSize int

	// MaxConcurrency caps the processor's own worker count per batch. The
	// process-wide request bound is enforced by the fetch client's pool.
	MaxConcurrency int

	// FailureThreshold is the fraction of failed detail fetches at which
	// the whole operation is reported as degraded instead of merely
	// sparse. 1.0 means only a totally failed operation degrades.
	FailureThreshold float64
}

// DefaultConfig returns safe processor defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		MaxConcurrency:   10,
		FailureThreshold: 1.0,
	}
}

// Processor fetches match details in fixed-size batches and reduces them
// into aggregate statistics.
type Processor struct {
	fetcher DetailFetcher
	config  Config
	logger  zerolog.Logger
}

// NewProcessor creates a batch processor on top of a detail fetcher.
func NewProcessor(fetcher DetailFetcher, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = 1.0
	}
	return &Processor{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger("batch-processor"),
	}
}

// Process fetches details for every match id and folds them into one
// AggregateStats. An individual match failure is recorded and skipped; an
// Unauthorized failure aborts immediately since it means the token provider
// needs attention, not that one match is broken. When the failure fraction
// reaches the configured threshold the whole operation fails as degraded.
func (p *Processor) Process(ctx context.Context, xuid string, matchIDs []string) (*AggregateStats, error) {
	start := time.Now()
	agg := &AggregateStats{}

	if len(matchIDs) == 0 {
		return agg, nil
	}

	var failed []string

	for offset := 0; offset < len(matchIDs); offset += p.config.BatchSize {
		end := offset + p.config.BatchSize
		if end > len(matchIDs) {
			end = len(matchIDs)
		}
		batch := matchIDs[offset:end]

		lines := make([]*halo.MatchStatLine, len(batch))
		errs := make([]error, len(batch))

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.config.MaxConcurrency)

		for i, matchID := range batch {
			g.Go(func() error {
				line, err := p.fetcher.MatchStats(gCtx, matchID, xuid)
				if err != nil {
					if client.IsKind(err, client.KindUnauthorized) {
						return err
					}
					errs[i] = err
					return nil
				}
				lines[i] = line
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("process batch: %w", err)
		}

		// Fold sequentially; the accumulator has exactly one writer.
		for i, line := range lines {
			if line == nil {
				failed = append(failed, batch[i])
				matchesSkippedTotal.Inc()
				p.logger.Warn().
					Err(errs[i]).
					Str("match_id", batch[i]).
					Msg("Match detail fetch failed, skipping")
				continue
			}
			agg.Fold(*line)
			matchesProcessedTotal.Inc()
		}
	}

	if len(failed) > 0 {
		ratio := float64(len(failed)) / float64(len(matchIDs))
		if ratio >= p.config.FailureThreshold {
			return nil, &client.FetchError{
				Kind:     client.KindDegraded,
				Endpoint: "match_stats",
				Message: fmt.Sprintf("%d of %d match detail fetches failed",
					len(failed), len(matchIDs)),
			}
		}

		p.logger.Warn().
			Int("failed", len(failed)).
			Int("total", len(matchIDs)).
			Msg("Aggregate computed from partial match set")
	}

	p.logger.Info().
		Uint("matches_processed", agg.MatchesProcessed).
		Int("skipped", len(failed)).
		Dur("duration", time.Since(start)).
		Msg("Batch processing complete")

	return agg, nil
}
