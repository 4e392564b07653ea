package match

import (
	"time"

	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/engine"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
)

func (m *Match) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case Join:
				m.handleJoin(msg)
			case Leave:
				m.handleLeave(msg)
			case SubmitMove:
				m.handleMove(msg)
			case Surrender:
				m.handleSurrender(msg)
			case turnTimerFired:
				m.handleTurnTimer(msg)
			case graceExpired:
				m.handleGraceExpired(msg)
			case countdownFired:
				m.handleCountdown(msg)
			case GetView:
				msg.Reply <- View{
					Version:    m.version,
					NumClients: len(m.clients),
					Series:     m.series,
					Game:       m.game,
					Snapshot:   m.snapshot(),
				}
			case Shutdown:
				m.shutdown()
				return
			}
		}
	}
}

func (m *Match) handleJoin(msg Join) {
	m.clients[msg.ClientID] = client{playerID: msg.PlayerID, outbox: msg.Outbox}

	if msg.PlayerID != "" && m.series.Has(msg.PlayerID) {
		m.conns[msg.PlayerID]++
		if m.conns[msg.PlayerID] == 1 {
			m.playerOnline(msg.PlayerID)
		}
	}

	// Current snapshot goes to the joiner immediately; everything later
	// arrives via broadcast.
	msg.Outbox <- m.snapshot()

	if m.series.Phase == series.PhaseAwaitingGame1 && m.bothPresent() {
		m.beginGame(time.Now())
		m.broadcast()
	}
}

func (m *Match) handleLeave(msg Leave) {
	cl, ok := m.clients[msg.ClientID]
	if !ok {
		return
	}
	delete(m.clients, msg.ClientID)
	if cl.playerID == "" || !m.series.Has(cl.playerID) {
		return
	}
	m.conns[cl.playerID]--
	if m.conns[cl.playerID] <= 0 {
		m.conns[cl.playerID] = 0
		m.playerOffline(cl.playerID, time.Now())
	}
}

func (m *Match) bothPresent() bool {
	return m.conns[m.series.PlayerA] > 0 && m.conns[m.series.PlayerB] > 0
}

func (m *Match) playerOnline(playerID string) {
	w, ok := m.windows[playerID]
	if !ok {
		return
	}
	// Reconnected inside the grace window: cancel it, clear the warning.
	// The opponent's window, if open, keeps running.
	w.timer.Stop()
	delete(m.windows, playerID)
	m.publish(EvtPlayerReconnected, playerID, nil)
	m.version++
	m.broadcast()
}

func (m *Match) playerOffline(playerID string, now time.Time) {
	if m.series.Phase.Terminal() {
		return
	}
	if _, open := m.windows[playerID]; open {
		// Flicker while this player's window is open; the earliest
		// disconnect governs.
		return
	}
	m.openGraceWindow(playerID, now)
	m.version++
	m.broadcast()
}

func (m *Match) openGraceWindow(playerID string, now time.Time) {
	deadline := now.Add(m.params.Grace)
	m.graceGen++
	gen := m.graceGen
	m.windows[playerID] = &graceWindow{
		state: DisconnectState{
			PlayerID:       playerID,
			DisconnectedAt: now,
			GraceDeadline:  deadline,
		},
		gen: gen,
		timer: time.AfterFunc(m.params.Grace, func() {
			select {
			case m.inbox <- graceExpired{gen: gen}:
			case <-m.ctx.Done():
			}
		}),
	}
	m.publish(EvtPlayerDisconnected, playerID, func(e *LifecycleEvent) {
		e.GraceSec = int(time.Until(deadline).Seconds())
	})
	m.log.Info("grace window opened",
		zap.String("player", playerID),
		zap.Time("deadline", deadline))
}

func (m *Match) handleGraceExpired(msg graceExpired) {
	var playerID string
	for id, w := range m.windows {
		if w.gen == msg.gen {
			playerID = id
			break
		}
	}
	if playerID == "" {
		return
	}
	delete(m.windows, playerID)

	if m.series.Phase == series.PhaseGameInProgress {
		// Forfeit the current game only.
		now := time.Now()
		loser := m.sideFor(playerID, m.game.Number)
		events, ng, err := engine.Forfeit(m.game, loser, false, now)
		if err != nil {
			m.log.Warn("disconnect forfeit on resolved game", zap.Error(err))
			return
		}
		m.game = ng
		m.version++
		m.logEvents(events)
		m.publish(EvtGameForfeited, playerID, nil)
		m.resolveGame(now)
		// Still gone after the forfeit: the next window spans the
		// countdown, and its expiry abandons the series.
		if !m.series.Phase.Terminal() && m.conns[playerID] == 0 {
			m.openGraceWindow(playerID, now)
		}
		m.broadcast()
		return
	}

	// No live game to forfeit; the presence loss spans the series.
	m.abandon(playerID, time.Now())
}

func (m *Match) handleMove(msg SubmitMove) {
	reply := func(res MoveResult) {
		if msg.Reply != nil {
			msg.Reply <- res
		}
	}

	if !m.series.Has(msg.PlayerID) {
		reply(MoveResult{Version: m.version, Err: series.ErrUnknownPlayer})
		return
	}
	if m.series.Phase != series.PhaseGameInProgress {
		reply(MoveResult{Version: m.version, Err: engine.ErrGameResolved})
		return
	}

	now := time.Now()
	seq := msg.Seq
	if seq == 0 {
		seq = len(m.game.Moves) + 1
	}
	mv := engine.Move{
		X:    msg.X,
		Y:    msg.Y,
		Side: m.sideFor(msg.PlayerID, m.game.Number),
		Seq:  seq,
		At:   now,
	}

	events, ng, err := engine.Apply(m.game, mv)
	if err != nil {
		reply(MoveResult{Version: m.version, Err: err})
		return
	}
	if len(events) == 0 {
		// Idempotent replay of an applied sequence number.
		snap := m.snapshot()
		reply(MoveResult{Accepted: true, Version: m.version, Snapshot: &snap})
		return
	}

	m.game = ng
	m.version++
	m.logEvents(events)

	if m.game.Status == engine.StatusActive {
		m.armTurnTimer(now)
	} else {
		m.resolveGame(now)
	}
	m.broadcast()

	snap := m.snapshot()
	reply(MoveResult{Accepted: true, Version: m.version, Snapshot: &snap})
}

func (m *Match) handleSurrender(msg Surrender) {
	if !m.series.Has(msg.PlayerID) {
		return
	}
	m.abandon(msg.PlayerID, time.Now())
}

func (m *Match) handleTurnTimer(msg turnTimerFired) {
	if msg.gen != m.turnGen {
		return
	}
	if m.series.Phase != series.PhaseGameInProgress || m.game.Status != engine.StatusActive {
		return
	}
	now := time.Now()
	loser := m.game.Turn
	events, ng, err := engine.Forfeit(m.game, loser, true, now)
	if err != nil {
		return
	}
	m.game = ng
	m.version++
	m.logEvents(events)
	m.publish(EvtGameForfeited, m.playerFor(loser, m.game.Number), nil)
	m.resolveGame(now)
	m.broadcast()
}

func (m *Match) handleCountdown(msg countdownFired) {
	if msg.gen != m.cdGen {
		return
	}
	if m.series.Phase != series.PhaseNextGameCountdown {
		return
	}
	m.beginGame(time.Now())
	m.broadcast()
}

// beginGame transitions the series into GameInProgress and creates the
// canonical state for the new game, carrying each player's remaining total
// time across the side swap.
func (m *Match) beginGame(now time.Time) {
	ns, err := series.BeginGame(m.series)
	if err != nil {
		m.log.Warn("begin game rejected", zap.Error(err))
		return
	}
	n := ns.Game

	budgets := map[engine.Side]time.Duration{
		engine.SideBlack: m.params.TotalTime,
		engine.SideWhite: m.params.TotalTime,
	}
	if len(m.history) > 0 {
		prev := m.history[len(m.history)-1]
		for _, p := range []string{ns.PlayerA, ns.PlayerB} {
			carried := prev.Remaining[m.sideFor(p, prev.Number)]
			budgets[m.sideFor(p, n)] = carried
		}
	}

	m.series = ns
	m.game = engine.NewGame(n, budgets, now)
	m.cdEndsAt = time.Time{}
	m.version++
	m.armTurnTimer(now)
	m.publish(series.EvtNextGameReady, m.series.BlackFor(n), nil)
}

// resolveGame feeds the just-resolved game into the series machine and
// either schedules the countdown or finalizes the series.
func (m *Match) resolveGame(now time.Time) {
	m.history = append(m.history, m.game)
	m.stopTurnTimer()

	winner := ""
	if m.game.Status == engine.StatusWon {
		winner = m.playerFor(m.game.Winner, m.game.Number)
	}

	events, ns, err := series.RecordGameResult(m.series, winner, now)
	if err != nil {
		m.log.Error("series rejected game result", zap.Error(err))
		return
	}
	m.series = ns
	for _, evt := range events {
		switch evt.Type {
		case series.EvtGameEnded:
			m.publish(series.EvtGameEnded, evt.Player, func(e *LifecycleEvent) { e.Game = evt.Game })
		case series.EvtSideSwapped:
			m.publish(series.EvtSideSwapped, evt.Player, nil)
		case series.EvtNextGameScheduled:
			m.scheduleCountdown(now)
		case series.EvtSeriesCompleted:
			m.finalize()
		}
	}
}

func (m *Match) scheduleCountdown(now time.Time) {
	m.cdGen++
	gen := m.cdGen
	m.cdEndsAt = now.Add(m.params.Countdown)
	m.cdTimer = time.AfterFunc(m.params.Countdown, func() {
		select {
		case m.inbox <- countdownFired{gen: gen}:
		case <-m.ctx.Done():
		}
	})
	m.publish(series.EvtNextGameScheduled, "", func(e *LifecycleEvent) {
		e.CountdownSec = int(m.params.Countdown.Seconds())
	})
}

// abandon forfeits the whole series immediately, bypassing any countdown.
func (m *Match) abandon(quitter string, now time.Time) {
	events, ns, err := series.Abandon(m.series, quitter, now)
	if err != nil {
		return
	}
	m.series = ns
	m.version++
	m.stopTurnTimer()
	m.stopCountdown()
	m.stopGraceWindows()
	for _, evt := range events {
		if evt.Type == series.EvtSeriesAbandoned {
			m.publish(series.EvtSeriesAbandoned, evt.Player, nil)
		}
	}
	m.finalize()
	m.broadcast()
}

// finalize computes the one-time rank deltas and hands the result to the
// sink. The series machine's Finalized flag flipped in the same transition
// that brought us here, so this cannot run twice for one series.
func (m *Match) finalize() {
	m.stopGraceWindows()
	stats := rank.SeriesStats{TotalMoves: m.totalMoves()}

	if m.series.Drawn {
		a, b := rank.DrawnDeltas(m.standings[m.series.PlayerA], m.standings[m.series.PlayerB])
		m.rewards = []rank.Delta{a, b}
	} else {
		winnerID := m.series.Winner
		loserID := m.series.Opponent(winnerID)
		if len(m.history) > 0 {
			last := m.history[len(m.history)-1]
			stats.WinnerRemaining = last.Remaining[m.sideFor(winnerID, last.Number)]
		}
		win, lose := m.params.Rank.Deltas(m.standings[winnerID], m.standings[loserID], stats)
		m.rewards = []rank.Delta{win, lose}
	}

	if m.series.Phase == series.PhaseSeriesResolved {
		m.publish(series.EvtSeriesCompleted, m.series.Winner, func(e *LifecycleEvent) {
			e.Rewards = m.rewards
		})
	}
	m.log.Info("series finalized",
		zap.String("winner", m.series.Winner),
		zap.Int("games", len(m.history)))

	if m.onFinalized != nil {
		res := Result{
			Series:  m.series,
			Games:   append([]engine.Game(nil), m.history...),
			Rewards: append([]rank.Delta(nil), m.rewards...),
		}
		// The sink persists with its own retry/backoff; don't stall the
		// actor on the database.
		go m.onFinalized(res)
	}
}

func (m *Match) totalMoves() int {
	total := 0
	for _, g := range m.history {
		total += len(g.Moves)
	}
	return total
}

// armTurnTimer starts the authoritative countdown for the side on turn: the
// per-move limit or the player's remaining total budget, whichever is
// shorter. Arming bumps the generation, which implicitly cancels any
// previous pending fire.
func (m *Match) armTurnTimer(now time.Time) {
	m.stopTurnTimer()
	d := m.params.MoveTimer
	if rem := m.game.Remaining[m.game.Turn]; rem < d {
		d = rem
	}
	m.turnGen++
	gen := m.turnGen
	m.turnDeadline = now.Add(d)
	m.turnTimer = time.AfterFunc(d, func() {
		select {
		case m.inbox <- turnTimerFired{gen: gen}:
		case <-m.ctx.Done():
		}
	})
}

func (m *Match) stopTurnTimer() {
	if m.turnTimer != nil {
		m.turnTimer.Stop()
	}
	m.turnGen++
	m.turnDeadline = time.Time{}
}

func (m *Match) stopCountdown() {
	if m.cdTimer != nil {
		m.cdTimer.Stop()
	}
	m.cdGen++
	m.cdEndsAt = time.Time{}
}

func (m *Match) stopGraceWindows() {
	for id, w := range m.windows {
		w.timer.Stop()
		delete(m.windows, id)
	}
}

// broadcast fans the canonical snapshot out to every subscriber. Slow
// clients are dropped rather than allowed to stall the actor; a dropped
// player connection goes through the same offline path as a clean leave.
func (m *Match) broadcast() {
	snap := m.snapshot()
	var dropped []string
	for id, cl := range m.clients {
		select {
		case cl.outbox <- snap:
		default:
			close(cl.outbox)
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		cl := m.clients[id]
		delete(m.clients, id)
		if cl.playerID != "" && m.series.Has(cl.playerID) {
			m.conns[cl.playerID]--
			if m.conns[cl.playerID] <= 0 {
				m.conns[cl.playerID] = 0
				m.playerOffline(cl.playerID, time.Now())
			}
		}
	}
}

func (m *Match) logEvents(events []engine.Event) {
	for _, evt := range events {
		m.log.Debug("game event",
			zap.String("type", string(evt.Type)),
			zap.String("side", string(evt.Side)))
	}
}

func (m *Match) shutdown() {
	m.stopTurnTimer()
	m.stopCountdown()
	m.stopGraceWindows()
	for id, cl := range m.clients {
		close(cl.outbox)
		delete(m.clients, id)
	}
	m.cancel()
}
