package series

import (
	"errors"
	"time"
)

var (
	ErrNoLiveGame    = errors.New("no game in progress")
	ErrSeriesOver    = errors.New("series already resolved")
	ErrNotCountingIn = errors.New("no game start pending")
	ErrUnknownPlayer = errors.New("player not in series")
)

// GamesToWin is the majority threshold of a best-of-three.
const GamesToWin = 2

// MaxGames bounds a series; with draws in play the majority may never be
// reached, so game three is always the last.
const MaxGames = 3

type Phase string

const (
	PhaseAwaitingGame1     Phase = "awaiting_game1"
	PhaseGameInProgress    Phase = "game_in_progress"
	PhaseNextGameCountdown Phase = "next_game_countdown"
	PhaseSeriesResolved    Phase = "series_resolved"
	PhaseSeriesAbandoned   Phase = "series_abandoned"
)

func (p Phase) Terminal() bool {
	return p == PhaseSeriesResolved || p == PhaseSeriesAbandoned
}

// State is the best-of-three machine. Like the game state it is a value:
// every transition returns a successor and leaves the input untouched.
type State struct {
	ID      string         `json:"id"`
	PlayerA string         `json:"player_a"`
	PlayerB string         `json:"player_b"`
	Game    int            `json:"game"`
	Score   map[string]int `json:"score"`
	Phase   Phase          `json:"phase"`

	// FirstBlack is the player opening game one; sides swap every game, so
	// the black player of game n is derived, not stored per game.
	FirstBlack string `json:"first_black"`

	Winner string `json:"winner,omitempty"`
	Drawn  bool   `json:"drawn,omitempty"`

	// Finalized flips exactly once, atomically with the terminal
	// transition. It is the guard the rank calculator keys off.
	Finalized bool `json:"finalized"`

	StartedAt  time.Time `json:"started_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

type EventType string

const (
	EvtGameEnded         EventType = "GameEnded"
	EvtSideSwapped       EventType = "SideSwapped"
	EvtNextGameScheduled EventType = "NextGameScheduled"
	EvtNextGameReady     EventType = "NextGameReady"
	EvtSeriesCompleted   EventType = "SeriesCompleted"
	EvtSeriesAbandoned   EventType = "SeriesAbandoned"
)

type Event struct {
	Type   EventType
	Player string // winner of a game, abandoner, or series winner
	Game   int
	Draw   bool
}

func New(id, playerA, playerB, firstBlack string, now time.Time) State {
	return State{
		ID:         id,
		PlayerA:    playerA,
		PlayerB:    playerB,
		Game:       1,
		Score:      map[string]int{playerA: 0, playerB: 0},
		Phase:      PhaseAwaitingGame1,
		FirstBlack: firstBlack,
		StartedAt:  now,
	}
}

func (s State) Has(player string) bool {
	return player == s.PlayerA || player == s.PlayerB
}

func (s State) Opponent(player string) string {
	if player == s.PlayerA {
		return s.PlayerB
	}
	return s.PlayerA
}

// BlackFor returns the player holding black in game n. Sides swap every game.
func (s State) BlackFor(n int) string {
	if n%2 == 1 {
		return s.FirstBlack
	}
	return s.Opponent(s.FirstBlack)
}

func (s State) clone() State {
	ns := s
	ns.Score = map[string]int{s.PlayerA: s.Score[s.PlayerA], s.PlayerB: s.Score[s.PlayerB]}
	return ns
}

// BeginGame moves AwaitingGame1 or NextGameCountdown into GameInProgress.
// Driven by the match actor when the countdown fires.
func BeginGame(s State) (State, error) {
	if s.Phase.Terminal() {
		return s, ErrSeriesOver
	}
	if s.Phase != PhaseAwaitingGame1 && s.Phase != PhaseNextGameCountdown {
		return s, ErrNotCountingIn
	}
	ns := s.clone()
	ns.Phase = PhaseGameInProgress
	return ns, nil
}

// RecordGameResult consumes the resolution of the live game. winner is empty
// for a draw; a draw awards no series point and advances the slot. The series
// resolves the moment either player reaches the majority, or at the end of
// game three by higher score (equal scores leave the series drawn with no
// winner). Terminal transitions set Finalized in the same step.
func RecordGameResult(s State, winner string, now time.Time) ([]Event, State, error) {
	if s.Phase.Terminal() {
		return nil, s, ErrSeriesOver
	}
	if s.Phase != PhaseGameInProgress {
		return nil, s, ErrNoLiveGame
	}
	if winner != "" && !s.Has(winner) {
		return nil, s, ErrUnknownPlayer
	}

	ns := s.clone()
	events := []Event{{Type: EvtGameEnded, Player: winner, Game: ns.Game, Draw: winner == ""}}
	if winner != "" {
		ns.Score[winner]++
	}

	if winner != "" && ns.Score[winner] >= GamesToWin {
		return append(events, resolve(&ns, winner, now)), ns, nil
	}
	if ns.Game >= MaxGames {
		switch {
		case ns.Score[ns.PlayerA] > ns.Score[ns.PlayerB]:
			events = append(events, resolve(&ns, ns.PlayerA, now))
		case ns.Score[ns.PlayerB] > ns.Score[ns.PlayerA]:
			events = append(events, resolve(&ns, ns.PlayerB, now))
		default:
			// All three games played, scores level. Nobody holds the
			// majority; the series closes drawn.
			ns.Drawn = true
			events = append(events, resolve(&ns, "", now))
		}
		return events, ns, nil
	}

	ns.Game++
	ns.Phase = PhaseNextGameCountdown
	events = append(events,
		Event{Type: EvtSideSwapped, Player: ns.BlackFor(ns.Game), Game: ns.Game},
		Event{Type: EvtNextGameScheduled, Game: ns.Game},
	)
	return events, ns, nil
}

// Abandon resolves the whole series against quitter immediately, bypassing
// any pending countdown. Used for explicit surrender and for presence loss
// spanning the series.
func Abandon(s State, quitter string, now time.Time) ([]Event, State, error) {
	if s.Phase.Terminal() {
		return nil, s, ErrSeriesOver
	}
	if !s.Has(quitter) {
		return nil, s, ErrUnknownPlayer
	}
	ns := s.clone()
	ns.Phase = PhaseSeriesAbandoned
	ns.Winner = ns.Opponent(quitter)
	ns.Finalized = true
	ns.ResolvedAt = now
	return []Event{{Type: EvtSeriesAbandoned, Player: quitter, Game: ns.Game}}, ns, nil
}

func resolve(ns *State, winner string, now time.Time) Event {
	ns.Phase = PhaseSeriesResolved
	ns.Winner = winner
	ns.Finalized = true
	ns.ResolvedAt = now
	return Event{Type: EvtSeriesCompleted, Player: winner, Game: ns.Game}
}
