// Package halo implements the wire boundary to the Halo Waypoint statistics
// API and the Xbox profile API: paginated match history per player, per-match
// detail stats, and gamertag/XUID resolution.
package halo

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is a match result from the requesting player's perspective.
type Outcome int

const (
	// OutcomeUnknown covers ties, DNF and anything the API reports outside
	// win/loss.
	OutcomeUnknown Outcome = iota

	// OutcomeWin is a won match.
	OutcomeWin

	// OutcomeLoss is a lost match.
	OutcomeLoss
)

// Waypoint outcome codes: 1=tie, 2=win, 3=loss, 4=did not finish.
func outcomeFromCode(code int) Outcome {
	switch code {
	case 2:
		return OutcomeWin
	case 3:
		return OutcomeLoss
	default:
		return OutcomeUnknown
	}
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	default:
		return "unknown"
	}
}

// MatchSummary is one entry of a player's match history page.
// Immutable once fetched.
type MatchSummary struct {
	MatchID   string
	Timestamp time.Time
	Outcome   Outcome
}

// MatchStatLine is the requesting player's stat line for a single match.
// Immutable once fetched. Accuracy is normalized to [0,1].
type MatchStatLine struct {
	MatchID  string
	Kills    uint
	Deaths   uint
	Assists  uint
	Outcome  Outcome
	Accuracy float64
}

// MatchPage is one bounded slice of a player's match history.
type MatchPage struct {
	Summaries []MatchSummary

	// EstimatedTotal is the total match count declared by the API. Only the
	// first page's value is trusted for a walk's termination condition; 0
	// means the API did not declare one.
	EstimatedTotal int
}

// matchHistoryResponse mirrors the match history endpoint payload.
type matchHistoryResponse struct {
	Start          int                `json:"Start"`
	Count          int                `json:"Count"`
	ResultCount    int                `json:"ResultCount"`
	EstimatedTotal int                `json:"EstimatedTotal"`
	Results        []matchHistoryItem `json:"Results"`
}

type matchHistoryItem struct {
	MatchID   string    `json:"MatchId"`
	Outcome   int       `json:"Outcome"`
	MatchInfo matchInfo `json:"MatchInfo"`
}

type matchInfo struct {
	StartTime time.Time `json:"StartTime"`
}

// matchStatsResponse mirrors the per-match stats endpoint payload. The engine
// only consumes the per-participant core stats.
type matchStatsResponse struct {
	MatchID string        `json:"MatchId"`
	Players []matchPlayer `json:"Players"`
}

type matchPlayer struct {
	PlayerID        string          `json:"PlayerId"`
	Outcome         int             `json:"Outcome"`
	PlayerTeamStats []teamStatEntry `json:"PlayerTeamStats"`
}

type teamStatEntry struct {
	Stats struct {
		CoreStats coreStats `json:"CoreStats"`
	} `json:"Stats"`
}

type coreStats struct {
	Kills      uint `json:"Kills"`
	Deaths     uint `json:"Deaths"`
	Assists    uint `json:"Assists"`
	ShotsFired uint `json:"ShotsFired"`
	ShotsHit   uint `json:"ShotsHit"`
}

// profileResponse mirrors the Xbox profile settings payload used for both
// directions of gamertag/XUID resolution.
type profileResponse struct {
	ProfileUsers []profileUser `json:"profileUsers"`
}

type profileUser struct {
	ID       string           `json:"id"`
	Settings []profileSetting `json:"settings"`
}

type profileSetting struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// xuidTag formats a XUID the way the stats API addresses players,
// e.g. "xuid(2535463944911967)".
func xuidTag(xuid string) string {
	return fmt.Sprintf("xuid(%s)", xuid)
}

// parseXUID extracts the bare XUID from a PlayerId value. Returns "" for
// non-player participants (bots report a different scheme).
func parseXUID(playerID string) string {
	if !strings.HasPrefix(playerID, "xuid(") || !strings.HasSuffix(playerID, ")") {
		return ""
	}
	return playerID[len("xuid(") : len(playerID)-1]
}
