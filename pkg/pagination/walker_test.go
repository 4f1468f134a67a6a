package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
)

// fakePageFetcher serves a fixed history split into pages.
type fakePageFetcher struct {
	history      []halo.MatchSummary
	pageSize     int
	declareTotal bool

	mu        sync.Mutex
	failPages map[int]error
	fetches   atomic.Int64
}

func newFakePageFetcher(total, pageSize int) *fakePageFetcher {
	history := make([]halo.MatchSummary, total)
	for i := range history {
		history[i] = halo.MatchSummary{MatchID: fmt.Sprintf("match-%04d", i)}
	}
	return &fakePageFetcher{
		history:      history,
		pageSize:     pageSize,
		declareTotal: true,
		failPages:    make(map[int]error),
	}
}

func (f *fakePageFetcher) PageSize() int { return f.pageSize }

func (f *fakePageFetcher) FetchPage(ctx context.Context, xuid string, page int) (*halo.MatchPage, error) {
	f.fetches.Add(1)

	f.mu.Lock()
	err := f.failPages[page]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	start := page * f.pageSize
	end := start + f.pageSize
	if start > len(f.history) {
		start = len(f.history)
	}
	if end > len(f.history) {
		end = len(f.history)
	}

	result := &halo.MatchPage{
		Summaries: append([]halo.MatchSummary(nil), f.history[start:end]...),
	}
	if f.declareTotal {
		result.EstimatedTotal = len(f.history)
	}
	return result, nil
}

func matchIDSet(summaries []halo.MatchSummary) map[string]struct{} {
	set := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		set[s.MatchID] = struct{}{}
	}
	return set
}

func TestWalkCompleteness(t *testing.T) {
	tests := []struct {
		name  string
		total int
	}{
		{"single short page", 12},
		{"exactly one page", 25},
		{"several pages with short tail", 112},
		{"exact page multiple", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakePageFetcher(tt.total, 25)
			walker := NewWalker(fetcher, DefaultConfig())

			summaries, err := walker.Walk(context.Background(), "1001")
			if err != nil {
				t.Fatalf("Walk: %v", err)
			}
			if len(summaries) != tt.total {
				t.Fatalf("got %d summaries, want %d", len(summaries), tt.total)
			}

			// Every known match id appears exactly once.
			set := matchIDSet(summaries)
			if len(set) != tt.total {
				t.Errorf("got %d distinct ids, want %d", len(set), tt.total)
			}
			for _, s := range fetcher.history {
				if _, ok := set[s.MatchID]; !ok {
					t.Errorf("missing match %s", s.MatchID)
				}
			}
		})
	}
}

func TestWalkEmptyHistory(t *testing.T) {
	fetcher := newFakePageFetcher(0, 25)
	walker := NewWalker(fetcher, DefaultConfig())

	summaries, err := walker.Walk(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("got %d summaries, want 0", len(summaries))
	}
	if n := fetcher.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestWalkPageFailureFailsWalk(t *testing.T) {
	fetcher := newFakePageFetcher(112, 25)
	pageErr := errors.New("page unavailable")
	fetcher.failPages[3] = pageErr

	walker := NewWalker(fetcher, DefaultConfig())
	_, err := walker.Walk(context.Background(), "1001")
	if !errors.Is(err, pageErr) {
		t.Fatalf("expected page error to surface, got %v", err)
	}
}

func TestWalkFirstPageFailure(t *testing.T) {
	fetcher := newFakePageFetcher(50, 25)
	pageErr := errors.New("first page unavailable")
	fetcher.failPages[0] = pageErr

	walker := NewWalker(fetcher, DefaultConfig())
	_, err := walker.Walk(context.Background(), "1001")
	if !errors.Is(err, pageErr) {
		t.Fatalf("expected first page error, got %v", err)
	}
	if n := fetcher.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestWalkSequentialFallback(t *testing.T) {
	fetcher := newFakePageFetcher(62, 25)
	fetcher.declareTotal = false

	walker := NewWalker(fetcher, DefaultConfig())
	summaries, err := walker.Walk(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(summaries) != 62 {
		t.Fatalf("got %d summaries, want 62", len(summaries))
	}
	// Pages 0..2; the short page 2 ends the walk.
	if n := fetcher.fetches.Load(); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestWalkFetchCount(t *testing.T) {
	fetcher := newFakePageFetcher(112, 25)
	walker := NewWalker(fetcher, DefaultConfig())

	if _, err := walker.Walk(context.Background(), "1001"); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	// ceil(112/25) = 5 pages, each fetched once.
	if n := fetcher.fetches.Load(); n != 5 {
		t.Errorf("fetches = %d, want 5", n)
	}
}
