// Package types defines the wire protocol between the engine and its
// clients: client commands, versioned snapshot pushes, and the stable error
// codes clients key their rollback handling off.
package types

import (
	"errors"

	"github.com/gomokuhub/match-backend/internal/engine"
	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/series"
)

// Client -> server.
type ClientMessage struct {
	Type string `json:"type"` // "PlaceStone" | "Surrender"
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Seq  int    `json:"seq,omitempty"`
}

// Server -> client. Consumers must discard any snapshot whose version is not
// strictly newer than the last one they applied; a confirmed snapshot
// replaces speculative local state wholesale.
type ServerMessage struct {
	Type     string          `json:"type"` // "StateSnapshot" | "Error"
	Version  int             `json:"version,omitempty"`
	Snapshot *match.Snapshot `json:"snapshot,omitempty"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	CodeOutOfBounds   = "out_of_bounds"
	CodeCellOccupied  = "cell_occupied"
	CodeWrongTurn     = "wrong_turn"
	CodeGameResolved  = "game_resolved"
	CodeStaleMove     = "stale_move"
	CodeSeriesOver    = "series_over"
	CodeUnknownPlayer = "unknown_player"
	CodeInternal      = "internal"
)

// CodeFor maps engine and series sentinels onto wire codes.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrOutOfBounds):
		return CodeOutOfBounds
	case errors.Is(err, engine.ErrCellOccupied):
		return CodeCellOccupied
	case errors.Is(err, engine.ErrWrongTurn):
		return CodeWrongTurn
	case errors.Is(err, engine.ErrGameResolved):
		return CodeGameResolved
	case errors.Is(err, engine.ErrStaleMove):
		return CodeStaleMove
	case errors.Is(err, series.ErrSeriesOver):
		return CodeSeriesOver
	case errors.Is(err, series.ErrUnknownPlayer):
		return CodeUnknownPlayer
	default:
		return CodeInternal
	}
}
