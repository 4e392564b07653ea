// Package match owns one live ranked series. All mutation flows through a
// single actor loop per series: move submissions, timer fires, presence
// changes and countdowns are messages on one inbox, so accepted updates are
// serialized and version-stamped with no locking in the state itself.
package match

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/engine"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
)

type Msg interface{ isMatchMsg() }

// Join subscribes a client connection. PlayerID is empty for spectators;
// for players it drives presence tracking.
type Join struct {
	ClientID string
	PlayerID string
	Outbox   chan Snapshot
}

func (Join) isMatchMsg() {}

type Leave struct{ ClientID string }

func (Leave) isMatchMsg() {}

// SubmitMove is the synchronous move path: the reply carries acceptance or a
// rejection the client uses to roll back its speculative update.
type SubmitMove struct {
	PlayerID string
	X, Y     int
	Seq      int // 0 means "next in sequence"
	Reply    chan MoveResult
}

func (SubmitMove) isMatchMsg() {}

// Surrender abandons the whole series for the issuing player.
type Surrender struct{ PlayerID string }

func (Surrender) isMatchMsg() {}

type GetView struct{ Reply chan View }

func (GetView) isMatchMsg() {}

type Shutdown struct{}

func (Shutdown) isMatchMsg() {}

// Internal timer messages. Each carries the generation it was armed under;
// the loop drops fires whose generation has moved on, so a timer racing an
// accepted move loses deterministically.
type turnTimerFired struct{ gen uint64 }

func (turnTimerFired) isMatchMsg() {}

type graceExpired struct{ gen uint64 }

func (graceExpired) isMatchMsg() {}

type countdownFired struct{ gen uint64 }

func (countdownFired) isMatchMsg() {}

type MoveResult struct {
	Accepted bool
	Version  int
	Err      error
	Snapshot *Snapshot
}

// DisconnectState describes one open grace window.
type DisconnectState struct {
	PlayerID       string    `json:"player_id"`
	DisconnectedAt time.Time `json:"disconnected_at"`
	GraceDeadline  time.Time `json:"grace_deadline"`
}

// graceWindow is the loop-side bookkeeping for one player's open window.
type graceWindow struct {
	state DisconnectState
	timer *time.Timer
	gen   uint64
}

// Snapshot is the canonical broadcast unit. Deadlines are projections for
// cosmetic client countdowns; only the server-side timers decide anything.
// Disconnect carries the earliest open grace window when either player is
// offline.
type Snapshot struct {
	Version         int              `json:"version"`
	Series          series.State     `json:"series"`
	Game            engine.Game      `json:"game"`
	TurnDeadline    time.Time        `json:"turn_deadline,omitzero"`
	CountdownEndsAt time.Time        `json:"countdown_ends_at,omitzero"`
	Disconnect      *DisconnectState `json:"disconnect,omitempty"`
	Rewards         []rank.Delta     `json:"rewards,omitempty"`
}

// View reflects internal state without data races; test and HTTP read path.
type View struct {
	Version    int
	NumClients int
	Series     series.State
	Game       engine.Game
	Snapshot   Snapshot
}

// Params are the authoritative timing rules plus the rank table.
type Params struct {
	MoveTimer time.Duration
	TotalTime time.Duration
	Grace     time.Duration
	Countdown time.Duration
	Rank      rank.Config
}

// Result is handed to the finalize sink exactly once per series.
type Result struct {
	Series  series.State
	Games   []engine.Game
	Rewards []rank.Delta
}

// LifecycleEvent is the minimal-payload feed published to the event bus.
type LifecycleEvent struct {
	Type         series.EventType `json:"type"`
	SeriesID     string           `json:"series_id"`
	Game         int              `json:"game"`
	Player       string           `json:"player,omitempty"`
	ScoreA       int              `json:"score_a"`
	ScoreB       int              `json:"score_b"`
	CountdownSec int              `json:"countdown_sec,omitempty"`
	GraceSec     int              `json:"grace_sec,omitempty"`
	Rewards      []rank.Delta     `json:"rewards,omitempty"`
	At           time.Time        `json:"at"`
}

// Extra lifecycle event types not produced by the series machine itself.
const (
	EvtPlayerDisconnected series.EventType = "PlayerDisconnected"
	EvtPlayerReconnected  series.EventType = "PlayerReconnected"
	EvtGameForfeited      series.EventType = "GameForfeited"
)

type Publisher interface {
	Publish(evt LifecycleEvent)
}

type client struct {
	playerID string
	outbox   chan Snapshot
}

// Match is the actor. Everything below inbox is loop-private.
type Match struct {
	inbox chan Msg

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	params Params

	series    series.State
	game      engine.Game
	history   []engine.Game
	version   int
	rewards   []rank.Delta
	standings map[string]rank.Standing

	clients map[string]client
	conns   map[string]int

	turnTimer    *time.Timer
	turnGen      uint64
	turnDeadline time.Time

	// windows tracks an open grace window per disconnected player, so one
	// player's episode never masks the other's.
	windows  map[string]*graceWindow
	graceGen uint64

	cdTimer  *time.Timer
	cdGen    uint64
	cdEndsAt time.Time

	publisher   Publisher
	onFinalized func(Result)
}

// New starts the actor for st. The first game begins once both players have
// joined; standings feed the rank calculation at series end. publisher and
// onFinalized may be nil.
func New(parent context.Context, log *zap.Logger, st series.State, standings []rank.Standing, p Params, publisher Publisher, onFinalized func(Result)) *Match {
	ctx, cancel := context.WithCancel(parent)
	m := &Match{
		inbox:       make(chan Msg, 64),
		ctx:         ctx,
		cancel:      cancel,
		log:         log.With(zap.String("series_id", st.ID)),
		params:      p,
		series:      st,
		standings:   make(map[string]rank.Standing, len(standings)),
		clients:     make(map[string]client),
		conns:       make(map[string]int),
		windows:     make(map[string]*graceWindow),
		publisher:   publisher,
		onFinalized: onFinalized,
	}
	for _, s := range standings {
		m.standings[s.PlayerID] = s
	}
	go m.loop()
	return m
}

// Inbox exposes the actor's message channel to the ws/http layers and tests.
func (m *Match) Inbox() chan<- Msg { return m.inbox }

func (m *Match) ID() string { return m.series.ID }

// sideFor maps a player to the color they hold in game n.
func (m *Match) sideFor(player string, n int) engine.Side {
	if m.series.BlackFor(n) == player {
		return engine.SideBlack
	}
	return engine.SideWhite
}

// playerFor is the inverse mapping for game n.
func (m *Match) playerFor(side engine.Side, n int) string {
	black := m.series.BlackFor(n)
	if side == engine.SideBlack {
		return black
	}
	return m.series.Opponent(black)
}

func (m *Match) snapshot() Snapshot {
	var dc *DisconnectState
	for _, w := range m.windows {
		if dc == nil || w.state.DisconnectedAt.Before(dc.DisconnectedAt) {
			cp := w.state
			dc = &cp
		}
	}
	return Snapshot{
		Version:         m.version,
		Series:          m.series,
		Game:            m.game,
		TurnDeadline:    m.turnDeadline,
		CountdownEndsAt: m.cdEndsAt,
		Disconnect:      dc,
		Rewards:         m.rewards,
	}
}

func (m *Match) publish(t series.EventType, player string, decorate func(*LifecycleEvent)) {
	if m.publisher == nil {
		return
	}
	evt := LifecycleEvent{
		Type:     t,
		SeriesID: m.series.ID,
		Game:     m.series.Game,
		Player:   player,
		ScoreA:   m.series.Score[m.series.PlayerA],
		ScoreB:   m.series.Score[m.series.PlayerB],
		At:       time.Now(),
	}
	if decorate != nil {
		decorate(&evt)
	}
	m.publisher.Publish(evt)
}
