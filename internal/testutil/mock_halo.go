// Package testutil provides testing utilities for the aggregation engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Participant is one player's record inside a mock match.
type Participant struct {
	XUID       string
	Kills      uint
	Deaths     uint
	Assists    uint
	Outcome    int // Waypoint codes: 1=tie, 2=win, 3=loss, 4=DNF
	ShotsFired uint
	ShotsHit   uint
}

// HistoryEntry is one entry of a mock player's match history.
type HistoryEntry struct {
	MatchID string
	Outcome int
}

// MockHalo is a configurable mock of the Halo stats and Xbox profile APIs.
type MockHalo struct {
	server *httptest.Server

	mu        sync.RWMutex
	pageSize  int
	players   map[string]string         // lowercased gamertag -> xuid
	gamertags map[string]string         // xuid -> gamertag
	histories map[string][]HistoryEntry // xuid -> history, newest first
	matches   map[string][]Participant  // match id -> participants

	// DeclareTotal controls whether history responses carry the
	// EstimatedTotal hint. Default true.
	DeclareTotal bool

	failStatus   map[string]int // path substring -> forced status
	unauthorized bool
	rateLimitN   int // return 429 for the next N requests

	// Tracking
	RequestCount    int
	ResolveCalls    map[string]int // lowercased gamertag -> count
	MatchStatsCalls map[string]int // match id -> count
}

// NewMockHalo creates a started mock server with a page size of 25.
func NewMockHalo() *MockHalo {
	mock := &MockHalo{
		pageSize:        25,
		players:         make(map[string]string),
		gamertags:       make(map[string]string),
		histories:       make(map[string][]HistoryEntry),
		matches:         make(map[string][]Participant),
		DeclareTotal:    true,
		failStatus:      make(map[string]int),
		ResolveCalls:    make(map[string]int),
		MatchStatsCalls: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL; use it for both the stats and profile
// base URLs.
func (m *MockHalo) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockHalo) Close() {
	m.server.Close()
}

// SetPageSize overrides the history page size.
func (m *MockHalo) SetPageSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = size
}

// AddPlayer registers a resolvable gamertag.
func (m *MockHalo) AddPlayer(gamertag, xuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[strings.ToLower(gamertag)] = xuid
	m.gamertags[xuid] = gamertag
}

// SetHistory sets a player's match history, newest first.
func (m *MockHalo) SetHistory(xuid string, entries []HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[xuid] = entries
}

// SetMatch sets the participants of a match.
func (m *MockHalo) SetMatch(matchID string, participants []Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[matchID] = participants
}

// FailWith forces every request whose path contains substr to return the
// given status.
func (m *MockHalo) FailWith(substr string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus[substr] = status
}

// SetUnauthorized makes every request return 401 when enabled.
func (m *MockHalo) SetUnauthorized(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unauthorized = enabled
}

// RateLimitNext makes the next n requests return 429.
func (m *MockHalo) RateLimitNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitN = n
}

// GetRequestCount returns the total number of requests observed.
func (m *MockHalo) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetResolveCalls returns how often a gamertag was resolved over the network.
func (m *MockHalo) GetResolveCalls(gamertag string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ResolveCalls[strings.ToLower(gamertag)]
}

func (m *MockHalo) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++

	if m.rateLimitN > 0 {
		m.rateLimitN--
		m.mu.Unlock()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	if m.unauthorized {
		m.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid spartan token"})
		return
	}

	for substr, status := range m.failStatus {
		if strings.Contains(r.URL.Path, substr) {
			m.mu.Unlock()
			writeJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
	}
	m.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/users/gt("):
		m.handleResolveGamertag(w, path)
	case strings.HasPrefix(path, "/users/xuid("):
		m.handleResolveXUID(w, path)
	case strings.HasPrefix(path, "/hi/players/xuid("):
		m.handleHistory(w, r)
	case strings.HasPrefix(path, "/hi/matches/"):
		m.handleMatchStats(w, path)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
	}
}

func (m *MockHalo) handleResolveGamertag(w http.ResponseWriter, path string) {
	gamertag := extractParen(path, "gt(")

	m.mu.Lock()
	m.ResolveCalls[strings.ToLower(gamertag)]++
	xuid, ok := m.players[strings.ToLower(gamertag)]
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "gamertag not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profileUsers": []map[string]interface{}{
			{"id": xuid},
		},
	})
}

func (m *MockHalo) handleResolveXUID(w http.ResponseWriter, path string) {
	xuid := extractParen(path, "xuid(")

	m.mu.RLock()
	gamertag, ok := m.gamertags[xuid]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "xuid not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profileUsers": []map[string]interface{}{
			{
				"id": xuid,
				"settings": []map[string]string{
					{"id": "Gamertag", "value": gamertag},
				},
			},
		},
	})
}

func (m *MockHalo) handleHistory(w http.ResponseWriter, r *http.Request) {
	xuid := extractParen(r.URL.Path, "xuid(")
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	m.mu.RLock()
	history, ok := m.histories[xuid]
	pageSize := m.pageSize
	declareTotal := m.DeclareTotal
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "player not found"})
		return
	}

	if count <= 0 || count > pageSize {
		count = pageSize
	}

	end := start + count
	if start > len(history) {
		start = len(history)
	}
	if end > len(history) {
		end = len(history)
	}

	results := make([]map[string]interface{}, 0, end-start)
	for _, entry := range history[start:end] {
		results = append(results, map[string]interface{}{
			"MatchId": entry.MatchID,
			"Outcome": entry.Outcome,
			"MatchInfo": map[string]interface{}{
				"StartTime": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	resp := map[string]interface{}{
		"Start":       start,
		"Count":       count,
		"ResultCount": len(results),
		"Results":     results,
	}
	if declareTotal {
		resp["EstimatedTotal"] = len(history)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (m *MockHalo) handleMatchStats(w http.ResponseWriter, path string) {
	matchID := strings.TrimSuffix(strings.TrimPrefix(path, "/hi/matches/"), "/stats")

	m.mu.Lock()
	m.MatchStatsCalls[matchID]++
	participants, ok := m.matches[matchID]
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
		return
	}

	players := make([]map[string]interface{}, 0, len(participants))
	for _, p := range participants {
		players = append(players, map[string]interface{}{
			"PlayerId": fmt.Sprintf("xuid(%s)", p.XUID),
			"Outcome":  p.Outcome,
			"PlayerTeamStats": []map[string]interface{}{
				{
					"Stats": map[string]interface{}{
						"CoreStats": map[string]interface{}{
							"Kills":      p.Kills,
							"Deaths":     p.Deaths,
							"Assists":    p.Assists,
							"ShotsFired": p.ShotsFired,
							"ShotsHit":   p.ShotsHit,
						},
					},
				},
			},
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"MatchId": matchID,
		"Players": players,
	})
}

// extractParen pulls the value out of a "prefix(value)" path segment.
func extractParen(path, prefix string) string {
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(prefix):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
