// Package engine orchestrates identity resolution, history pagination and
// batch processing into the caller-facing aggregation operations: Full for
// one player, Server for a whole membership, Populate for cache warming.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/client"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/identity"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/stats"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_requests_total",
		Help: "Total engine requests by operation and result",
	}, []string{"operation", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_request_duration_seconds",
		Help:    "Engine request duration in seconds by operation",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300},
	}, []string{"operation"})
)

// State tracks where a request is in its lifecycle. Purely observational;
// transitions are logged, never branched on.
type State string

const (
	StateIdle              State = "idle"
	StateResolvingIdentity State = "resolving_identity"
	StatePaginating        State = "paginating"
	StateProcessingBatches State = "processing_batches"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Walker retrieves a player's complete match history.
type Walker interface {
	Walk(ctx context.Context, xuid string) ([]halo.MatchSummary, error)
}

// Processor reduces match ids into aggregate statistics.
type Processor interface {
	Process(ctx context.Context, xuid string, matchIDs []string) (*stats.AggregateStats, error)
}

// ParticipantFetcher lists the players present in a match, used by Populate.
type ParticipantFetcher interface {
	MatchParticipants(ctx context.Context, matchID string) ([]string, error)
}

// LeaderboardEntry pairs a resolved identity with its aggregate. The engine
// returns entries unordered; sorting by a metric is a presentation concern.
type LeaderboardEntry struct {
	Identity identity.PlayerIdentity
	Stats    stats.AggregateStats
}

// MemberFailure records why one member of a server aggregation was excluded.
type MemberFailure struct {
	Gamertag string
	Err      error
}

// ServerResult is the outcome of a whole-membership aggregation: successes
// beside failures, so callers can surface "N players could not be processed".
type ServerResult struct {
	Entries  []LeaderboardEntry
	Failures []MemberFailure
}

// PopulateResult reports a cache-warming run.
type PopulateResult struct {
	MatchesScanned int
	NewIdentities  int
}

// Config holds engine configuration.
type Config struct {
	// MemberConcurrency caps how many members a Server request aggregates
	// at once. All underlying fetches still compete for the global pool.
	MemberConcurrency int

	// PopulateConcurrency caps concurrent match scans and identity
	// resolutions during Populate.
	PopulateConcurrency int
}

// DefaultConfig returns safe engine defaults.
func DefaultConfig() Config {
	return Config{
		MemberConcurrency:   8,
		PopulateConcurrency: 10,
	}
}

// Engine composes the cache, walker and processor into the caller-facing
// operations.
type Engine struct {
	cache        *identity.Cache
	walker       Walker
	processor    Processor
	participants ParticipantFetcher
	config       Config
	logger       zerolog.Logger
}

// New creates an engine.
func New(cache *identity.Cache, walker Walker, processor Processor, participants ParticipantFetcher, cfg Config) (*Engine, error) {
	if cache == nil || walker == nil || processor == nil || participants == nil {
		return nil, fmt.Errorf("cache, walker, processor and participant fetcher are required")
	}
	if cfg.MemberConcurrency <= 0 {
		cfg.MemberConcurrency = 8
	}
	if cfg.PopulateConcurrency <= 0 {
		cfg.PopulateConcurrency = 10
	}
	return &Engine{
		cache:        cache,
		walker:       walker,
		processor:    processor,
		participants: participants,
		config:       cfg,
		logger:       logging.NewLogger("engine"),
	}, nil
}

// request carries per-request observability state. Each top-level operation
// owns exactly one.
type request struct {
	logger zerolog.Logger
	state  State
}

func (e *Engine) newRequest(operation, gamertag string) *request {
	return &request{
		logger: e.logger.With().
			Str("request_id", uuid.NewString()).
			Str("operation", operation).
			Str("gamertag", gamertag).
			Logger(),
		state: StateIdle,
	}
}

func (r *request) transition(next State) {
	r.logger.Debug().
		Str("from", string(r.state)).
		Str("to", string(next)).
		Msg("Request state transition")
	r.state = next
}

// Full aggregates one player's entire match history. The contract is
// all-or-nothing: any stage failure returns the originating error and no
// partial statistics.
func (e *Engine) Full(ctx context.Context, gamertag string) (*LeaderboardEntry, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
	}()

	req := e.newRequest("full", gamertag)
	entry, err := e.full(ctx, req, gamertag)
	if err != nil {
		req.transition(StateFailed)
		requestsTotal.WithLabelValues("full", "failed").Inc()
		req.logger.Error().Err(err).Msg("Full aggregation failed")
		return nil, err
	}

	req.transition(StateDone)
	requestsTotal.WithLabelValues("full", "ok").Inc()
	req.logger.Info().
		Uint("matches_processed", entry.Stats.MatchesProcessed).
		Dur("duration", time.Since(start)).
		Msg("Full aggregation complete")

	return entry, nil
}

func (e *Engine) full(ctx context.Context, req *request, gamertag string) (*LeaderboardEntry, error) {
	req.transition(StateResolvingIdentity)
	id, err := e.cache.Resolve(ctx, gamertag)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", gamertag, err)
	}

	req.transition(StatePaginating)
	summaries, err := e.walker.Walk(ctx, id.XUID)
	if err != nil {
		return nil, fmt.Errorf("walk history of %q: %w", gamertag, err)
	}

	matchIDs := make([]string, 0, len(summaries))
	for _, s := range summaries {
		matchIDs = append(matchIDs, s.MatchID)
	}

	req.transition(StateProcessingBatches)
	agg, err := e.processor.Process(ctx, id.XUID, matchIDs)
	if err != nil {
		return nil, fmt.Errorf("process matches of %q: %w", gamertag, err)
	}

	return &LeaderboardEntry{Identity: id, Stats: *agg}, nil
}

// Server runs Full independently and concurrently for every member tag.
// Per-member failures are recorded and excluded from the entries rather than
// aborting the batch.
func (e *Engine) Server(ctx context.Context, memberTags []string) (*ServerResult, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("server").Observe(time.Since(start).Seconds())
	}()

	result := &ServerResult{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.config.MemberConcurrency)

	for _, tag := range memberTags {
		g.Go(func() error {
			entry, err := e.Full(ctx, tag)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, MemberFailure{Gamertag: tag, Err: err})
				return nil
			}
			result.Entries = append(result.Entries, *entry)
			return nil
		})
	}

	// Member goroutines never return errors; Wait only orders completion.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		requestsTotal.WithLabelValues("server", "cancelled").Inc()
		return nil, err
	}

	requestsTotal.WithLabelValues("server", "ok").Inc()
	e.logger.Info().
		Int("members", len(memberTags)).
		Int("succeeded", len(result.Entries)).
		Int("failed", len(result.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Server aggregation complete")

	return result, nil
}

// Populate warms the identity cache: it walks the player's history, collects
// every other participant across those matches, and resolves the ones not
// yet cached. No aggregation is performed.
func (e *Engine) Populate(ctx context.Context, gamertag string) (*PopulateResult, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("populate").Observe(time.Since(start).Seconds())
	}()

	req := e.newRequest("populate", gamertag)

	req.transition(StateResolvingIdentity)
	id, err := e.cache.Resolve(ctx, gamertag)
	if err != nil {
		req.transition(StateFailed)
		requestsTotal.WithLabelValues("populate", "failed").Inc()
		return nil, fmt.Errorf("resolve %q: %w", gamertag, err)
	}

	req.transition(StatePaginating)
	summaries, err := e.walker.Walk(ctx, id.XUID)
	if err != nil {
		req.transition(StateFailed)
		requestsTotal.WithLabelValues("populate", "failed").Inc()
		return nil, fmt.Errorf("walk history of %q: %w", gamertag, err)
	}

	req.transition(StateProcessingBatches)

	// Collect every opponent XUID across all matches. Individual match scan
	// failures only cost their participants.
	seen := make(map[string]struct{})
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.PopulateConcurrency)

	for _, summary := range summaries {
		g.Go(func() error {
			xuids, err := e.participants.MatchParticipants(gCtx, summary.MatchID)
			if err != nil {
				if client.IsKind(err, client.KindUnauthorized) {
					return err
				}
				req.logger.Warn().
					Err(err).
					Str("match_id", summary.MatchID).
					Msg("Match scan failed, skipping")
				return nil
			}

			mu.Lock()
			for _, xuid := range xuids {
				if xuid != id.XUID {
					seen[xuid] = struct{}{}
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		req.transition(StateFailed)
		requestsTotal.WithLabelValues("populate", "failed").Inc()
		return nil, fmt.Errorf("scan matches of %q: %w", gamertag, err)
	}

	// Resolve the XUIDs not already cached. Sorted for deterministic logs.
	unknown := make([]string, 0, len(seen))
	for xuid := range seen {
		if !e.cache.ContainsXUID(xuid) {
			unknown = append(unknown, xuid)
		}
	}
	sort.Strings(unknown)

	var cached int
	g, gCtx = errgroup.WithContext(ctx)
	g.SetLimit(e.config.PopulateConcurrency)

	for _, xuid := range unknown {
		g.Go(func() error {
			if _, err := e.cache.ResolveXUID(gCtx, xuid); err != nil {
				if client.IsKind(err, client.KindUnauthorized) {
					return err
				}
				req.logger.Warn().Err(err).Str("xuid", xuid).Msg("Identity resolution failed, skipping")
				return nil
			}

			mu.Lock()
			cached++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		req.transition(StateFailed)
		requestsTotal.WithLabelValues("populate", "failed").Inc()
		return nil, fmt.Errorf("resolve opponents of %q: %w", gamertag, err)
	}

	req.transition(StateDone)
	requestsTotal.WithLabelValues("populate", "ok").Inc()
	req.logger.Info().
		Int("matches_scanned", len(summaries)).
		Int("opponents_seen", len(seen)).
		Int("newly_cached", cached).
		Dur("duration", time.Since(start)).
		Msg("Cache population complete")

	return &PopulateResult{
		MatchesScanned: len(summaries),
		NewIdentities:  cached,
	}, nil
}
