package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/client"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/identity"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/stats"
)

// fakeResolver maps gamertags and XUIDs from fixed tables.
type fakeResolver struct {
	mu       sync.Mutex
	tags     map[string]string
	gamertag map[string]string
	failTags map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		tags:     make(map[string]string),
		gamertag: make(map[string]string),
		failTags: make(map[string]error),
	}
}

func (r *fakeResolver) add(gamertag, xuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[gamertag] = xuid
	r.gamertag[xuid] = gamertag
}

func (r *fakeResolver) ResolveGamertag(ctx context.Context, gamertag string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failTags[gamertag]; err != nil {
		return "", err
	}
	xuid, ok := r.tags[gamertag]
	if !ok {
		return "", &client.FetchError{Kind: client.KindNotFound, Endpoint: "resolve_gamertag"}
	}
	return xuid, nil
}

func (r *fakeResolver) ResolveXUID(ctx context.Context, xuid string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gamertag, ok := r.gamertag[xuid]
	if !ok {
		return "", &client.FetchError{Kind: client.KindNotFound, Endpoint: "resolve_xuid"}
	}
	return gamertag, nil
}

// fakeWalker serves fixed histories keyed by xuid.
type fakeWalker struct {
	mu        sync.Mutex
	histories map[string][]halo.MatchSummary
	failXUIDs map[string]error
}

func newFakeWalker() *fakeWalker {
	return &fakeWalker{
		histories: make(map[string][]halo.MatchSummary),
		failXUIDs: make(map[string]error),
	}
}

func (w *fakeWalker) setHistory(xuid string, n int) {
	history := make([]halo.MatchSummary, n)
	for i := range history {
		history[i] = halo.MatchSummary{MatchID: fmt.Sprintf("%s-match-%04d", xuid, i)}
	}
	w.mu.Lock()
	w.histories[xuid] = history
	w.mu.Unlock()
}

func (w *fakeWalker) Walk(ctx context.Context, xuid string) ([]halo.MatchSummary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failXUIDs[xuid]; err != nil {
		return nil, err
	}
	return w.histories[xuid], nil
}

// fakeProcessor produces one kill and one death per match id.
type fakeProcessor struct {
	mu        sync.Mutex
	failXUIDs map[string]error
	calls     int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{failXUIDs: make(map[string]error)}
}

func (p *fakeProcessor) Process(ctx context.Context, xuid string, matchIDs []string) (*stats.AggregateStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.failXUIDs[xuid]; err != nil {
		return nil, err
	}

	agg := &stats.AggregateStats{}
	for _, id := range matchIDs {
		agg.Fold(halo.MatchStatLine{MatchID: id, Kills: 1, Deaths: 1, Outcome: halo.OutcomeWin})
	}
	return agg, nil
}

// fakeParticipants serves participant lists keyed by match id.
type fakeParticipants struct {
	mu          sync.Mutex
	byMatch     map[string][]string
	failMatches map[string]error
}

func newFakeParticipants() *fakeParticipants {
	return &fakeParticipants{
		byMatch:     make(map[string][]string),
		failMatches: make(map[string]error),
	}
}

func (f *fakeParticipants) MatchParticipants(ctx context.Context, matchID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failMatches[matchID]; err != nil {
		return nil, err
	}
	return f.byMatch[matchID], nil
}

type testRig struct {
	resolver     *fakeResolver
	cache        *identity.Cache
	walker       *fakeWalker
	processor    *fakeProcessor
	participants *fakeParticipants
	engine       *Engine
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		resolver:     newFakeResolver(),
		walker:       newFakeWalker(),
		processor:    newFakeProcessor(),
		participants: newFakeParticipants(),
	}
	rig.cache = identity.NewCache(rig.resolver, nil)

	eng, err := New(rig.cache, rig.walker, rig.processor, rig.participants, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.engine = eng
	return rig
}

func TestNewValidation(t *testing.T) {
	rig := newTestRig(t)
	if _, err := New(nil, rig.walker, rig.processor, rig.participants, DefaultConfig()); err == nil {
		t.Error("expected error without cache")
	}
	if _, err := New(rig.cache, nil, rig.processor, rig.participants, DefaultConfig()); err == nil {
		t.Error("expected error without walker")
	}
	if _, err := New(rig.cache, rig.walker, nil, rig.participants, DefaultConfig()); err == nil {
		t.Error("expected error without processor")
	}
	if _, err := New(rig.cache, rig.walker, rig.processor, nil, DefaultConfig()); err == nil {
		t.Error("expected error without participant fetcher")
	}
}

func TestFull(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Alice", "1001")
	rig.walker.setHistory("1001", 112)

	entry, err := rig.engine.Full(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Full: %v", err)
	}

	if entry.Identity.Gamertag != "Alice" || entry.Identity.XUID != "1001" {
		t.Errorf("identity = %+v", entry.Identity)
	}
	if entry.Stats.MatchesProcessed != 112 {
		t.Errorf("MatchesProcessed = %d, want 112", entry.Stats.MatchesProcessed)
	}
	if entry.Stats.Kills != 112 || entry.Stats.Deaths != 112 {
		t.Errorf("kills/deaths = %d/%d, want 112/112", entry.Stats.Kills, entry.Stats.Deaths)
	}
	if entry.Stats.KDRatio() != 1.0 {
		t.Errorf("KDRatio = %v, want 1.0", entry.Stats.KDRatio())
	}
}

func TestFullEmptyHistory(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Alice", "1001")

	entry, err := rig.engine.Full(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	if entry.Stats.MatchesProcessed != 0 {
		t.Errorf("MatchesProcessed = %d, want 0", entry.Stats.MatchesProcessed)
	}
}

func TestFullResolveFailure(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.engine.Full(context.Background(), "Nobody")
	if !client.IsKind(err, client.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if rig.processor.calls != 0 {
		t.Error("processor should not run after a resolve failure")
	}
}

func TestFullWalkFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Alice", "1001")
	walkErr := errors.New("history unavailable")
	rig.walker.failXUIDs["1001"] = walkErr

	_, err := rig.engine.Full(context.Background(), "Alice")
	if !errors.Is(err, walkErr) {
		t.Fatalf("expected walk error, got %v", err)
	}
	if rig.processor.calls != 0 {
		t.Error("processor should not run after a walk failure")
	}
}

func TestFullProcessFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Alice", "1001")
	rig.walker.setHistory("1001", 10)
	rig.processor.failXUIDs["1001"] = &client.FetchError{Kind: client.KindDegraded, Endpoint: "match_stats"}

	_, err := rig.engine.Full(context.Background(), "Alice")
	if !client.IsKind(err, client.KindDegraded) {
		t.Fatalf("expected degraded, got %v", err)
	}
}

func TestServerIsolatesMemberFailures(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Alice", "1001")
	rig.resolver.add("Carol", "3003")
	rig.walker.setHistory("1001", 30)
	rig.walker.setHistory("3003", 50)

	result, err := rig.engine.Server(context.Background(), []string{"Alice", "Bob", "Carol"})
	if err != nil {
		t.Fatalf("Server: %v", err)
	}

	if len(result.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(result.Entries))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(result.Failures))
	}
	if result.Failures[0].Gamertag != "Bob" {
		t.Errorf("failed member = %q, want Bob", result.Failures[0].Gamertag)
	}

	totals := map[string]uint{}
	for _, e := range result.Entries {
		totals[e.Identity.Gamertag] = e.Stats.MatchesProcessed
	}
	if totals["Alice"] != 30 || totals["Carol"] != 50 {
		t.Errorf("per-member totals = %v", totals)
	}
}

func TestServerEmptyMembership(t *testing.T) {
	rig := newTestRig(t)

	result, err := rig.engine.Server(context.Background(), nil)
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if len(result.Entries) != 0 || len(result.Failures) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}

func TestServerCancelledContext(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rig.engine.Server(ctx, []string{"Alice"}); err == nil {
		t.Error("expected error with cancelled context")
	}
}

func populateFixture(rig *testRig, matches, opponents int) {
	rig.resolver.add("Bob", "2002")
	rig.walker.setHistory("2002", matches)

	for i := 0; i < opponents; i++ {
		rig.resolver.add(fmt.Sprintf("Opponent%d", i), fmt.Sprintf("9%03d", i))
	}

	// Spread opponents across Bob's matches; every match includes Bob.
	for i := 0; i < matches; i++ {
		matchID := fmt.Sprintf("2002-match-%04d", i)
		participants := []string{"2002"}
		for j := 0; j < opponents; j++ {
			if (i+j)%2 == 0 {
				participants = append(participants, fmt.Sprintf("9%03d", j))
			}
		}
		rig.participants.byMatch[matchID] = participants
	}
}

func TestPopulate(t *testing.T) {
	rig := newTestRig(t)
	populateFixture(rig, 10, 8)

	result, err := rig.engine.Populate(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}

	if result.MatchesScanned != 10 {
		t.Errorf("MatchesScanned = %d, want 10", result.MatchesScanned)
	}
	if result.NewIdentities != 8 {
		t.Errorf("NewIdentities = %d, want 8", result.NewIdentities)
	}

	// Bob plus eight opponents.
	if rig.cache.Len() != 9 {
		t.Errorf("cache size = %d, want 9", rig.cache.Len())
	}
	if !rig.cache.ContainsXUID("9000") {
		t.Error("opponent 9000 should be cached")
	}
}

func TestPopulateWarmCacheIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	populateFixture(rig, 10, 8)

	if _, err := rig.engine.Populate(context.Background(), "Bob"); err != nil {
		t.Fatalf("first Populate: %v", err)
	}

	result, err := rig.engine.Populate(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("second Populate: %v", err)
	}
	if result.NewIdentities != 0 {
		t.Errorf("NewIdentities on warm cache = %d, want 0", result.NewIdentities)
	}
}

func TestPopulateSkipsFailedScans(t *testing.T) {
	rig := newTestRig(t)
	populateFixture(rig, 10, 8)
	rig.participants.failMatches["2002-match-0000"] = &client.FetchError{
		Kind: client.KindNetwork, Endpoint: "match_stats",
	}

	result, err := rig.engine.Populate(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	// The failed match only costs its own participants; the opponents appear
	// in other matches too, so all eight still get cached.
	if result.NewIdentities != 8 {
		t.Errorf("NewIdentities = %d, want 8", result.NewIdentities)
	}
}

func TestPopulateUnauthorizedAborts(t *testing.T) {
	rig := newTestRig(t)
	populateFixture(rig, 10, 8)
	rig.participants.failMatches["2002-match-0003"] = &client.FetchError{
		Kind: client.KindUnauthorized, Endpoint: "match_stats",
	}

	_, err := rig.engine.Populate(context.Background(), "Bob")
	if !client.IsKind(err, client.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPopulateSkipsUnresolvableOpponents(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.add("Bob", "2002")
	rig.walker.setHistory("2002", 1)
	rig.participants.byMatch["2002-match-0000"] = []string{"2002", "9000", "9001"}
	rig.resolver.add("Opponent1", "9001")
	// 9000 is not resolvable.

	result, err := rig.engine.Populate(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if result.NewIdentities != 1 {
		t.Errorf("NewIdentities = %d, want 1", result.NewIdentities)
	}
}
