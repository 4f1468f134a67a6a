// Package stats reduces match detail records into aggregate performance
// metrics.
package stats

import "github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"

// AggregateStats is the running accumulator for one reduction pass. It is
// owned exclusively by that pass; derived metrics (K/D, KDA, win rate,
// average accuracy) are computed on read and never stored.
type AggregateStats struct {
	MatchesProcessed uint
	Kills            uint
	Deaths           uint
	Assists          uint
	Wins             uint
	Losses           uint
	// Unknown counts ties, DNFs and anything else the API reports outside
	// win/loss, so no match is silently dropped from the totals.
	Unknown uint

	AccuracySum   float64
	AccuracyCount uint
}

// Fold merges one stat line into the accumulator. The reduction is
// commutative and associative, so fold order never affects the result.
func (a *AggregateStats) Fold(line halo.MatchStatLine) {
	a.MatchesProcessed++
	a.Kills += line.Kills
	a.Deaths += line.Deaths
	a.Assists += line.Assists

	switch line.Outcome {
	case halo.OutcomeWin:
		a.Wins++
	case halo.OutcomeLoss:
		a.Losses++
	default:
		a.Unknown++
	}

	a.AccuracySum += line.Accuracy
	a.AccuracyCount++
}

// Merge combines another accumulator into this one.
func (a *AggregateStats) Merge(other AggregateStats) {
	a.MatchesProcessed += other.MatchesProcessed
	a.Kills += other.Kills
	a.Deaths += other.Deaths
	a.Assists += other.Assists
	a.Wins += other.Wins
	a.Losses += other.Losses
	a.Unknown += other.Unknown
	a.AccuracySum += other.AccuracySum
	a.AccuracyCount += other.AccuracyCount
}

// KDRatio returns kills per death. With zero deaths the kill count itself is
// returned, matching how players read a deathless record.
func (a *AggregateStats) KDRatio() float64 {
	if a.Deaths == 0 {
		return float64(a.Kills)
	}
	return float64(a.Kills) / float64(a.Deaths)
}

// KDA returns kills plus a third of assists, minus deaths.
func (a *AggregateStats) KDA() float64 {
	return float64(a.Kills) + float64(a.Assists)/3 - float64(a.Deaths)
}

// AverageAccuracy returns the mean per-match accuracy in [0,1].
func (a *AggregateStats) AverageAccuracy() float64 {
	if a.AccuracyCount == 0 {
		return 0
	}
	return a.AccuracySum / float64(a.AccuracyCount)
}

// WinRate returns wins over processed matches in [0,1].
func (a *AggregateStats) WinRate() float64 {
	if a.MatchesProcessed == 0 {
		return 0
	}
	return float64(a.Wins) / float64(a.MatchesProcessed)
}
