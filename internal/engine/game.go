package engine

import (
	"errors"
	"time"
)

var (
	ErrOutOfBounds  = errors.New("coordinates out of bounds")
	ErrCellOccupied = errors.New("cell occupied")
	ErrWrongTurn    = errors.New("not this side's turn")
	ErrGameResolved = errors.New("game already resolved")
	ErrStaleMove    = errors.New("stale sequence number")
)

type Status string

const (
	StatusActive Status = "active"
	StatusWon    Status = "won"
	StatusDraw   Status = "draw"
)

// Move is one stone placement. Seq is strictly increasing with no gaps,
// starting at 1.
type Move struct {
	X    int       `json:"x"`
	Y    int       `json:"y"`
	Side Side      `json:"side"`
	Seq  int       `json:"seq"`
	At   time.Time `json:"at"`
}

// Game is the canonical state of one game in a series. It is a value type:
// Apply and Forfeit return a new Game and never mutate their receiver, so the
// previous state stays usable for stale-event comparison.
type Game struct {
	Board      Board                  `json:"board"`
	Moves      []Move                 `json:"moves"`
	Turn       Side                   `json:"turn"`
	Number     int                    `json:"number"`
	Status     Status                 `json:"status"`
	Winner     Side                   `json:"winner,omitempty"`
	Remaining  map[Side]time.Duration `json:"remaining"`
	StartedAt  time.Time              `json:"started_at"`
	LastMoveAt time.Time              `json:"last_move_at"`
}

// NewGame starts game number n with black to move and the given total time
// budgets. Budgets carry forward between games of a series, so they are
// passed in rather than reset here.
func NewGame(n int, budgets map[Side]time.Duration, now time.Time) Game {
	return Game{
		Moves:  []Move{},
		Turn:   SideBlack,
		Number: n,
		Status: StatusActive,
		Remaining: map[Side]time.Duration{
			SideBlack: budgets[SideBlack],
			SideWhite: budgets[SideWhite],
		},
		StartedAt:  now,
		LastMoveAt: now,
	}
}

func (g Game) clone() Game {
	ng := g
	ng.Moves = append([]Move(nil), g.Moves...)
	ng.Remaining = map[Side]time.Duration{
		SideBlack: g.Remaining[SideBlack],
		SideWhite: g.Remaining[SideWhite],
	}
	return ng
}

type EventType string

const (
	EvtStonePlaced   EventType = "StonePlaced"
	EvtTurnAdvanced  EventType = "TurnAdvanced"
	EvtGameWon       EventType = "GameWon"
	EvtGameDrawn     EventType = "GameDrawn"
	EvtGameForfeited EventType = "GameForfeited"
)

type Event struct {
	Type EventType
	Side Side
	X, Y int
}

// Apply validates mv against g and, if accepted, returns the successor state
// plus the events describing what happened. Replaying the exact move that
// already holds mv.Seq is an accepted no-op, so at-least-once submission
// cannot double-place a stone.
func Apply(g Game, mv Move) ([]Event, Game, error) {
	if replayed, err := checkSeq(g, mv); err != nil || replayed {
		return nil, g, err
	}

	verdict, err := Validate(g, mv)
	if err != nil {
		return nil, g, err
	}

	ng := g.clone()
	ng.Board[mv.Y][mv.X] = mv.Side.Cell()
	ng.Moves = append(ng.Moves, mv)

	// The mover's budget pays for the time the turn was held. Clamped at
	// zero: the authoritative timer fires before it can go negative, so a
	// negative here only means clock skew on the submitted timestamp.
	elapsed := mv.At.Sub(g.LastMoveAt)
	if elapsed > 0 {
		rem := ng.Remaining[mv.Side] - elapsed
		if rem < 0 {
			rem = 0
		}
		ng.Remaining[mv.Side] = rem
	}
	ng.LastMoveAt = mv.At

	events := []Event{{Type: EvtStonePlaced, Side: mv.Side, X: mv.X, Y: mv.Y}}

	switch {
	case verdict.Winner != "":
		ng.Status = StatusWon
		ng.Winner = verdict.Winner
		events = append(events, Event{Type: EvtGameWon, Side: verdict.Winner})
	case verdict.Draw:
		ng.Status = StatusDraw
		events = append(events, Event{Type: EvtGameDrawn})
	default:
		ng.Turn = mv.Side.Opponent()
		events = append(events, Event{Type: EvtTurnAdvanced, Side: ng.Turn})
	}
	return events, ng, nil
}

// checkSeq enforces the no-gap sequence contract. It reports replayed=true
// when mv repeats the placement already applied at that position (same cell
// and side; the submission timestamp is ignored so a retry still matches).
func checkSeq(g Game, mv Move) (replayed bool, err error) {
	next := len(g.Moves) + 1
	if mv.Seq == next {
		return false, nil
	}
	if mv.Seq >= 1 && mv.Seq < next {
		prior := g.Moves[mv.Seq-1]
		if prior.X == mv.X && prior.Y == mv.Y && prior.Side == mv.Side {
			return true, nil
		}
	}
	return false, ErrStaleMove
}

// Forfeit resolves the game against loser without a stone being placed; used
// for timeouts and unrecovered disconnects. The loser's budget is zeroed on a
// timeout so the carried-forward clock reflects the expiry.
func Forfeit(g Game, loser Side, timeout bool, now time.Time) ([]Event, Game, error) {
	if g.Status != StatusActive {
		return nil, g, ErrGameResolved
	}
	ng := g.clone()
	ng.Status = StatusWon
	ng.Winner = loser.Opponent()
	ng.LastMoveAt = now
	if timeout {
		ng.Remaining[loser] = 0
	}
	return []Event{
		{Type: EvtGameForfeited, Side: loser},
		{Type: EvtGameWon, Side: ng.Winner},
	}, ng, nil
}
