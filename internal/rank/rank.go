// Package rank computes the one-time mindpoint adjustment for a resolved
// series. It is pure arithmetic over a config table; the exactly-once
// guarantee lives with the series Finalized flag, not here.
package rank

import "time"

// Config is the tunable scoring table. The tier differential is deliberately
// a step/cap pair rather than hard-coded thresholds.
type Config struct {
	Base              int
	QuickWinBonus     int
	QuickWinMoveLimit int
	TimeBonus         int
	TimeBonusMin      time.Duration
	TierStep          int
	TierCap           int
	LoserDelta        int
	Floor             int
}

func DefaultConfig() Config {
	return Config{
		Base:              20,
		QuickWinBonus:     10,
		QuickWinMoveLimit: 50,
		TimeBonus:         5,
		TimeBonusMin:      180 * time.Second,
		TierStep:          5,
		TierCap:           15,
		LoserDelta:        -15,
		Floor:             5,
	}
}

// Delta is the adjustment for one player, produced exactly once per series.
type Delta struct {
	PlayerID   string `json:"player_id"`
	Points     int    `json:"points"`
	RankBefore int    `json:"rank_before"`
	RankAfter  int    `json:"rank_after"`
}

// Standing is what the profile service knows about a player when the series
// resolves: current mindpoints and rank tier.
type Standing struct {
	PlayerID string
	Points   int
	Tier     int
}

// SeriesStats captures the parts of the finished series the formula reads.
type SeriesStats struct {
	TotalMoves      int
	WinnerRemaining time.Duration
}

// WinnerPoints applies the full bonus stack, floored so a win never pays
// less than Floor.
func (c Config) WinnerPoints(winner, loser Standing, stats SeriesStats) int {
	pts := c.Base
	if stats.TotalMoves < c.QuickWinMoveLimit {
		pts += c.QuickWinBonus
	}
	if stats.WinnerRemaining > c.TimeBonusMin {
		pts += c.TimeBonus
	}
	pts += c.tierBonus(loser.Tier - winner.Tier)
	if pts < c.Floor {
		pts = c.Floor
	}
	return pts
}

// tierBonus pays TierStep per tier of opponent-strength difference, positive
// when the opponent outranked the winner, clamped to ±TierCap.
func (c Config) tierBonus(tierDiff int) int {
	bonus := tierDiff * c.TierStep
	if bonus > c.TierCap {
		return c.TierCap
	}
	if bonus < -c.TierCap {
		return -c.TierCap
	}
	return bonus
}

// Deltas produces both adjustments for a decided series. The loser's penalty
// is fixed and independent of every modifier.
func (c Config) Deltas(winner, loser Standing, stats SeriesStats) (Delta, Delta) {
	wp := c.WinnerPoints(winner, loser, stats)
	win := Delta{
		PlayerID:   winner.PlayerID,
		Points:     wp,
		RankBefore: winner.Points,
		RankAfter:  winner.Points + wp,
	}
	lose := Delta{
		PlayerID:   loser.PlayerID,
		Points:     c.LoserDelta,
		RankBefore: loser.Points,
		RankAfter:  loser.Points + c.LoserDelta,
	}
	return win, lose
}

// DrawnDeltas closes out a series that ended with level scores: zero points
// either way, but a delta row is still produced so the series is durably
// finalized downstream.
func DrawnDeltas(a, b Standing) (Delta, Delta) {
	return Delta{PlayerID: a.PlayerID, RankBefore: a.Points, RankAfter: a.Points},
		Delta{PlayerID: b.PlayerID, RankBefore: b.Points, RankAfter: b.Points}
}
