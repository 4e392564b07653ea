package storage

import (
	"encoding/json"
	"time"

	"github.com/gomokuhub/match-backend/internal/engine"
	"github.com/gomokuhub/match-backend/internal/match"
)

// SeriesRecord is the durable row for a finalized series. A series is only
// considered resolved once this row commits; until then the profile side
// still sees it in progress.
type SeriesRecord struct {
	ID         string `gorm:"primaryKey"`
	PlayerA    string `gorm:"index"`
	PlayerB    string `gorm:"index"`
	Status     string
	Winner     string
	ScoreA     int
	ScoreB     int
	StartedAt  time.Time
	ResolvedAt time.Time
	CreatedAt  time.Time

	Games  []GameRecord      `gorm:"foreignKey:SeriesID"`
	Deltas []RankDeltaRecord `gorm:"foreignKey:SeriesID"`
}

// GameRecord is one immutable game of the series; moves are kept as a JSON
// document since nothing queries individual stones.
type GameRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SeriesID   string `gorm:"index"`
	Number     int
	Result     string
	WinnerSide string
	MoveCount  int
	Moves      string `gorm:"type:jsonb"`
}

// RankDeltaRecord is the once-per-series mindpoint adjustment for one player.
type RankDeltaRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SeriesID   string `gorm:"index"`
	PlayerID   string `gorm:"index"`
	Points     int
	RankBefore int
	RankAfter  int
}

// RecordFor flattens a finalized match result into its persistence rows.
func RecordFor(res match.Result) SeriesRecord {
	rec := SeriesRecord{
		ID:         res.Series.ID,
		PlayerA:    res.Series.PlayerA,
		PlayerB:    res.Series.PlayerB,
		Status:     string(res.Series.Phase),
		Winner:     res.Series.Winner,
		ScoreA:     res.Series.Score[res.Series.PlayerA],
		ScoreB:     res.Series.Score[res.Series.PlayerB],
		StartedAt:  res.Series.StartedAt,
		ResolvedAt: res.Series.ResolvedAt,
	}
	for _, g := range res.Games {
		rec.Games = append(rec.Games, gameRecord(res.Series.ID, g))
	}
	for _, d := range res.Rewards {
		rec.Deltas = append(rec.Deltas, RankDeltaRecord{
			SeriesID:   res.Series.ID,
			PlayerID:   d.PlayerID,
			Points:     d.Points,
			RankBefore: d.RankBefore,
			RankAfter:  d.RankAfter,
		})
	}
	return rec
}

func gameRecord(seriesID string, g engine.Game) GameRecord {
	moves, _ := json.Marshal(g.Moves)
	return GameRecord{
		SeriesID:   seriesID,
		Number:     g.Number,
		Result:     string(g.Status),
		WinnerSide: string(g.Winner),
		MoveCount:  len(g.Moves),
		Moves:      string(moves),
	}
}
