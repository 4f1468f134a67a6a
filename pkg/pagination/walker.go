// Package pagination drives discovery and concurrent retrieval of all match
// history pages for a player.
//
// The first page is fetched alone to learn the declared total; the remaining
// pages are then requested concurrently, since page order does not affect
// correctness, only completeness does. A walk that cannot retrieve every
// expected page fails outright rather than returning a silent partial
// history, because partial histories produce misleadingly low aggregates.
package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagination_pages_fetched_total",
		Help: "Total match history pages fetched",
	})

	walksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagination_walks_total",
		Help: "Total history walks by result",
	}, []string{"result"})
)

// PageFetcher is the interface the API client implements for single-page
// fetching.
type PageFetcher interface {
	// FetchPage fetches one page of a player's match history. Page
	// numbering starts at 0.
	FetchPage(ctx context.Context, xuid string, page int) (*halo.MatchPage, error)

	// PageSize returns the page size the fetcher requests.
	PageSize() int
}

// Config holds walker configuration.
type Config struct {
	// MaxConcurrency caps the walker's own worker count. The process-wide
	// request bound is enforced separately by the fetch client's pool.
	MaxConcurrency int
}

// DefaultConfig returns safe walker defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 10}
}

// Walker retrieves complete match histories.
type Walker struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewWalker creates a walker on top of a page fetcher.
func NewWalker(fetcher PageFetcher, cfg Config) *Walker {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	return &Walker{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger("pagination"),
	}
}

// Walk returns every match summary in the player's history. Summaries are
// returned in page order but callers must not rely on any ordering; a fresh
// walk always starts from page 0. Returns an error if any expected page
// cannot be retrieved.
func (w *Walker) Walk(ctx context.Context, xuid string) ([]halo.MatchSummary, error) {
	start := time.Now()

	first, err := w.fetcher.FetchPage(ctx, xuid, 0)
	if err != nil {
		walksTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	pagesFetchedTotal.Inc()

	// A zero-entry first page is the natural end of history.
	if len(first.Summaries) == 0 {
		walksTotal.WithLabelValues("ok").Inc()
		return nil, nil
	}

	pageSize := w.fetcher.PageSize()

	var summaries []halo.MatchSummary
	if first.EstimatedTotal > 0 {
		summaries, err = w.walkConcurrent(ctx, xuid, first, pageSize)
	} else {
		// No declared total; degrade to sequential discovery until an
		// empty or short page.
		summaries, err = w.walkSequential(ctx, xuid, first, pageSize)
	}
	if err != nil {
		walksTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	walksTotal.WithLabelValues("ok").Inc()
	w.logger.Info().
		Str("xuid", xuid).
		Int("matches", len(summaries)).
		Dur("duration", time.Since(start)).
		Msg("History walk complete")

	return summaries, nil
}

// walkConcurrent fetches the remaining pages in parallel. The first page's
// declared total is authoritative for the walk's termination condition; the
// live history may grow during a long walk, and those extra matches belong
// to the next walk.
func (w *Walker) walkConcurrent(ctx context.Context, xuid string, first *halo.MatchPage, pageSize int) ([]halo.MatchSummary, error) {
	totalPages := (first.EstimatedTotal + pageSize - 1) / pageSize

	w.logger.Info().
		Str("xuid", xuid).
		Int("total_pages", totalPages).
		Int("estimated_total", first.EstimatedTotal).
		Msg("Starting parallel page fetch")

	if totalPages <= 1 {
		return first.Summaries, nil
	}

	pages := make([][]halo.MatchSummary, totalPages)
	pages[0] = first.Summaries

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.MaxConcurrency)

	for page := 1; page < totalPages; page++ {
		g.Go(func() error {
			result, err := w.fetcher.FetchPage(gCtx, xuid, page)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}
			pagesFetchedTotal.Inc()
			pages[page] = result.Summaries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]halo.MatchSummary, 0, first.EstimatedTotal)
	for _, page := range pages {
		summaries = append(summaries, page...)
	}

	return summaries, nil
}

// walkSequential fetches pages one at a time until a short or empty page.
func (w *Walker) walkSequential(ctx context.Context, xuid string, first *halo.MatchPage, pageSize int) ([]halo.MatchSummary, error) {
	summaries := append([]halo.MatchSummary(nil), first.Summaries...)

	if len(first.Summaries) < pageSize {
		return summaries, nil
	}

	for page := 1; ; page++ {
		result, err := w.fetcher.FetchPage(ctx, xuid, page)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		pagesFetchedTotal.Inc()

		summaries = append(summaries, result.Summaries...)

		if len(result.Summaries) < pageSize {
			return summaries, nil
		}
	}
}
