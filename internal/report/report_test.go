package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/engine"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/identity"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/stats"
)

func TestParseSortKey(t *testing.T) {
	tests := []struct {
		input   string
		want    SortKey
		wantErr bool
	}{
		{"kd", SortKD, false},
		{"kda", SortKDA, false},
		{"winrate", SortWinRate, false},
		{"kills", SortKills, false},
		{"", SortKD, false},
		{"elo", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSortKey(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSortKey(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSortKey(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSortKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPrintLeaderboardRanking(t *testing.T) {
	entries := []engine.LeaderboardEntry{
		{
			Identity: identity.PlayerIdentity{Gamertag: "LowKD"},
			Stats:    stats.AggregateStats{MatchesProcessed: 10, Kills: 10, Deaths: 20},
		},
		{
			Identity: identity.PlayerIdentity{Gamertag: "HighKD"},
			Stats:    stats.AggregateStats{MatchesProcessed: 10, Kills: 30, Deaths: 10},
		},
	}

	var buf bytes.Buffer
	PrintLeaderboard(&buf, entries, SortKD)

	out := buf.String()
	high := strings.Index(out, "HighKD")
	low := strings.Index(out, "LowKD")
	if high < 0 || low < 0 {
		t.Fatalf("missing gamertags in output:\n%s", out)
	}
	if high > low {
		t.Errorf("HighKD should rank above LowKD:\n%s", out)
	}
}
