// Package report renders aggregation results as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/engine"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/stats"
)

// SortKey selects the leaderboard ranking metric.
type SortKey string

const (
	SortKD      SortKey = "kd"
	SortKDA     SortKey = "kda"
	SortWinRate SortKey = "winrate"
	SortKills   SortKey = "kills"
)

// ParseSortKey validates a user-supplied sort key, defaulting to K/D.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case SortKD, SortKDA, SortWinRate, SortKills:
		return SortKey(s), nil
	case "":
		return SortKD, nil
	default:
		return "", fmt.Errorf("unknown sort key %q (want kd, kda, winrate or kills)", s)
	}
}

func sortValue(s stats.AggregateStats, key SortKey) float64 {
	switch key {
	case SortKDA:
		return s.KDA()
	case SortWinRate:
		return s.WinRate()
	case SortKills:
		return float64(s.Kills)
	default:
		return s.KDRatio()
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

// PrintLeaderboard renders server aggregation entries ranked by the given
// metric, best first.
func PrintLeaderboard(w io.Writer, entries []engine.LeaderboardEntry, key SortKey) {
	sorted := append([]engine.LeaderboardEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sortValue(sorted[i].Stats, key) > sortValue(sorted[j].Stats, key)
	})

	table := newTable(w)
	table.Header("RANK", "GAMERTAG", "MATCHES", "K", "D", "A", "K/D", "KDA", "ACC%", "WIN%")

	for i, e := range sorted {
		s := e.Stats
		table.Append(
			strconv.Itoa(i+1),
			e.Identity.Gamertag,
			strconv.FormatUint(uint64(s.MatchesProcessed), 10),
			strconv.FormatUint(uint64(s.Kills), 10),
			strconv.FormatUint(uint64(s.Deaths), 10),
			strconv.FormatUint(uint64(s.Assists), 10),
			fmt.Sprintf("%.2f", s.KDRatio()),
			fmt.Sprintf("%.1f", s.KDA()),
			fmt.Sprintf("%.1f%%", s.AverageAccuracy()*100),
			fmt.Sprintf("%.1f%%", s.WinRate()*100),
		)
	}
	table.Render()
}

// PrintPlayer renders a single player's aggregate.
func PrintPlayer(w io.Writer, entry *engine.LeaderboardEntry) {
	s := entry.Stats
	fmt.Fprintf(w, "\n%s  (xuid %s)\n\n", entry.Identity.Gamertag, entry.Identity.XUID)

	table := newTable(w)
	table.Header("MATCHES", "W", "L", "OTHER", "K", "D", "A", "K/D", "KDA", "ACC%", "WIN%")
	table.Append(
		strconv.FormatUint(uint64(s.MatchesProcessed), 10),
		strconv.FormatUint(uint64(s.Wins), 10),
		strconv.FormatUint(uint64(s.Losses), 10),
		strconv.FormatUint(uint64(s.Unknown), 10),
		strconv.FormatUint(uint64(s.Kills), 10),
		strconv.FormatUint(uint64(s.Deaths), 10),
		strconv.FormatUint(uint64(s.Assists), 10),
		fmt.Sprintf("%.2f", s.KDRatio()),
		fmt.Sprintf("%.1f", s.KDA()),
		fmt.Sprintf("%.1f%%", s.AverageAccuracy()*100),
		fmt.Sprintf("%.1f%%", s.WinRate()*100),
	)
	table.Render()
}

// PrintFailures lists members that could not be aggregated.
func PrintFailures(w io.Writer, failures []engine.MemberFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d player(s) could not be processed:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s: %v\n", f.Gamertag, f.Err)
	}
}
