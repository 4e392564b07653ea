package match

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/engine"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{
		MoveTimer: 2 * time.Second,
		TotalTime: 10 * time.Second,
		Grace:     2 * time.Second,
		Countdown: 2 * time.Second,
		Rank:      rank.DefaultConfig(),
	}
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, got version %d", within, s.Version)
	case <-time.After(within):
	}
}

// waitForSnapshot drains ch until pred holds; intermediate snapshots are
// legal (every committed mutation broadcasts), the test cares about the
// state it is steering toward.
func waitForSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting")
			}
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
			return Snapshot{} // unreachable
		}
	}
}

func recvView(t *testing.T, m *Match, within time.Duration) View {
	t.Helper()
	reply := make(chan View, 1)
	m.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

// startMatch brings up an actor with alice (black in game one) and bob both
// connected, and drains each outbox past the game-one start.
func startMatch(t *testing.T, p Params, onFinalized func(Result)) (*Match, chan Snapshot, chan Snapshot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := series.New("s1", "alice", "bob", "alice", t0)
	standings := []rank.Standing{
		{PlayerID: "alice", Points: 1200},
		{PlayerID: "bob", Points: 1200},
	}
	m := New(ctx, zap.NewNop(), st, standings, p, nil, onFinalized)

	aliceOut := make(chan Snapshot, 64)
	bobOut := make(chan Snapshot, 64)
	m.Inbox() <- Join{ClientID: "ca", PlayerID: "alice", Outbox: aliceOut}
	m.Inbox() <- Join{ClientID: "cb", PlayerID: "bob", Outbox: bobOut}

	waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Series.Phase == series.PhaseGameInProgress
	})
	waitForSnapshot(t, bobOut, time.Second, func(s Snapshot) bool {
		return s.Series.Phase == series.PhaseGameInProgress
	})
	return m, aliceOut, bobOut
}

func mustMove(t *testing.T, m *Match, player string, x, y int) MoveResult {
	t.Helper()
	reply := make(chan MoveResult, 1)
	m.Inbox() <- SubmitMove{PlayerID: player, X: x, Y: y, Reply: reply}
	select {
	case res := <-reply:
		if !res.Accepted {
			t.Fatalf("%s move (%d,%d) rejected: %v", player, x, y, res.Err)
		}
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for move reply")
		return MoveResult{} // unreachable
	}
}

func submitMove(t *testing.T, m *Match, player string, x, y int) MoveResult {
	t.Helper()
	reply := make(chan MoveResult, 1)
	m.Inbox() <- SubmitMove{PlayerID: player, X: x, Y: y, Reply: reply}
	select {
	case res := <-reply:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for move reply")
		return MoveResult{} // unreachable
	}
}

// playQuickWin drives the current game to a five-in-a-row for winner. Rows
// are chosen away from earlier games' rows so replays within a series don't
// collide; each game starts on a fresh board anyway.
func playQuickWin(t *testing.T, m *Match, winner, loser string, winnerIsBlack bool) {
	t.Helper()
	if winnerIsBlack {
		for i := 0; i < 4; i++ {
			mustMove(t, m, winner, i, 0)
			mustMove(t, m, loser, i, 5)
		}
		mustMove(t, m, winner, 4, 0)
		return
	}
	// Loser opens; their fifth stone is parked away from their row.
	for i := 0; i < 4; i++ {
		mustMove(t, m, loser, i, 10)
		mustMove(t, m, winner, i, 0)
	}
	mustMove(t, m, loser, 12, 12)
	mustMove(t, m, winner, 4, 0)
}

func TestMatch_BeginsWhenBothPlayersJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := series.New("s1", "alice", "bob", "alice", t0)
	m := New(ctx, zap.NewNop(), st, nil, testParams(), nil, nil)

	aliceOut := make(chan Snapshot, 8)
	m.Inbox() <- Join{ClientID: "ca", PlayerID: "alice", Outbox: aliceOut}

	first := recvSnapshot(t, aliceOut, time.Second)
	if first.Version != 0 || first.Series.Phase != series.PhaseAwaitingGame1 {
		t.Fatalf("lone player: want v0 awaiting, got v%d %s", first.Version, first.Series.Phase)
	}

	bobOut := make(chan Snapshot, 8)
	m.Inbox() <- Join{ClientID: "cb", PlayerID: "bob", Outbox: bobOut}

	started := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Series.Phase == series.PhaseGameInProgress
	})
	if started.Game.Number != 1 || started.Game.Turn != engine.SideBlack {
		t.Fatalf("game one must open with black to move, got %+v", started.Game)
	}
	if started.Version == 0 {
		t.Fatalf("starting the game must bump the version")
	}
}

func TestMatch_AcceptedMoveBroadcasts(t *testing.T) {
	m, aliceOut, bobOut := startMatch(t, testParams(), nil)

	res := mustMove(t, m, "alice", 7, 7)
	if res.Snapshot == nil || res.Snapshot.Game.Board.At(7, 7) != engine.CellBlack {
		t.Fatalf("reply must carry the committed state")
	}

	for _, ch := range []chan Snapshot{aliceOut, bobOut} {
		snap := waitForSnapshot(t, ch, time.Second, func(s Snapshot) bool {
			return len(s.Game.Moves) == 1
		})
		if snap.Game.Board.At(7, 7) != engine.CellBlack {
			t.Fatalf("broadcast board missing the stone")
		}
		if snap.Game.Turn != engine.SideWhite {
			t.Fatalf("turn must pass to white, got %s", snap.Game.Turn)
		}
		if snap.Version != res.Version {
			t.Fatalf("broadcast version %d != reply version %d", snap.Version, res.Version)
		}
	}
}

func TestMatch_RejectedMoveLeavesStateUntouched(t *testing.T) {
	m, aliceOut, _ := startMatch(t, testParams(), nil)
	before := recvView(t, m, time.Second)

	res := submitMove(t, m, "bob", 3, 3) // white moving on black's turn
	if res.Accepted {
		t.Fatalf("wrong-turn move must be rejected")
	}
	if res.Err == nil {
		t.Fatalf("rejection must carry the reason")
	}

	recvNoSnapshot(t, aliceOut, 200*time.Millisecond)
	after := recvView(t, m, time.Second)
	if after.Version != before.Version {
		t.Fatalf("rejected move must not advance the version: %d -> %d", before.Version, after.Version)
	}
}

func TestMatch_MoveTimerForfeitsPlayerOnTurn(t *testing.T) {
	p := testParams()
	p.MoveTimer = 60 * time.Millisecond
	_, aliceOut, _ := startMatch(t, p, nil)

	// Alice (black) never moves; the authoritative timer forfeits her game.
	snap := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Game.Status == engine.StatusWon
	})
	if snap.Game.Winner != engine.SideWhite {
		t.Fatalf("timeout must award the game to white, got %s", snap.Game.Winner)
	}
	if snap.Series.Score["bob"] != 1 {
		t.Fatalf("bob should hold one game win, got %+v", snap.Series.Score)
	}
	if snap.Series.Phase != series.PhaseNextGameCountdown || snap.Series.Game != 2 {
		t.Fatalf("want countdown into game two, got phase=%s game=%d", snap.Series.Phase, snap.Series.Game)
	}
	if snap.CountdownEndsAt.IsZero() {
		t.Fatalf("countdown deadline missing from snapshot")
	}
}

func TestMatch_CountdownStartsNextGameWithSwappedSides(t *testing.T) {
	p := testParams()
	p.MoveTimer = 50 * time.Millisecond
	p.Countdown = 50 * time.Millisecond
	_, aliceOut, _ := startMatch(t, p, nil)

	snap := waitForSnapshot(t, aliceOut, 2*time.Second, func(s Snapshot) bool {
		return s.Game.Number == 2 && s.Series.Phase == series.PhaseGameInProgress
	})
	if snap.Series.BlackFor(2) != "bob" {
		t.Fatalf("sides must swap: bob opens game two")
	}
	if snap.Game.Turn != engine.SideBlack {
		t.Fatalf("new game opens with black to move")
	}
	// Alice burned her full budget in game one; the carried-over clock is
	// empty while bob's is intact.
	black, white := snap.Game.Remaining[engine.SideBlack], snap.Game.Remaining[engine.SideWhite]
	if black != p.TotalTime {
		t.Fatalf("bob (black) keeps his full budget, got %v", black)
	}
	if white != 0 {
		t.Fatalf("alice (white) timed her budget out, got %v", white)
	}
}

func TestMatch_StaleTimerFireIsDropped(t *testing.T) {
	m, aliceOut, _ := startMatch(t, testParams(), nil)
	before := recvView(t, m, time.Second)

	m.Inbox() <- turnTimerFired{gen: 999} // generation long gone

	recvNoSnapshot(t, aliceOut, 200*time.Millisecond)
	after := recvView(t, m, time.Second)
	if after.Game.Status != engine.StatusActive || after.Version != before.Version {
		t.Fatalf("stale fire must be ignored")
	}
}

func TestMatch_ReconnectWithinGraceClearsWarning(t *testing.T) {
	p := testParams()
	p.Grace = 500 * time.Millisecond
	m, aliceOut, _ := startMatch(t, p, nil)

	m.Inbox() <- Leave{ClientID: "cb"}
	warned := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Disconnect != nil
	})
	if warned.Disconnect.PlayerID != "bob" {
		t.Fatalf("warning must name the disconnected player")
	}
	if !warned.Disconnect.GraceDeadline.After(warned.Disconnect.DisconnectedAt) {
		t.Fatalf("grace deadline must extend past the disconnect")
	}

	bobOut := make(chan Snapshot, 8)
	m.Inbox() <- Join{ClientID: "cb2", PlayerID: "bob", Outbox: bobOut}
	waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Disconnect == nil
	})

	// Well past the original deadline: no forfeiture ever lands.
	time.Sleep(p.Grace + 100*time.Millisecond)
	view := recvView(t, m, time.Second)
	if view.Game.Status != engine.StatusActive {
		t.Fatalf("reconnect within grace must not forfeit, got %s", view.Game.Status)
	}
}

func TestMatch_OpenGraceWindowIsNotRestarted(t *testing.T) {
	p := testParams()
	p.Grace = 500 * time.Millisecond
	m, aliceOut, _ := startMatch(t, p, nil)

	m.Inbox() <- Leave{ClientID: "cb"}
	warned := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Disconnect != nil
	})

	// Further offline signals while the window is open must not move the
	// deadline: the earliest disconnect governs.
	m.Inbox() <- Leave{ClientID: "ca"}
	view := recvView(t, m, time.Second)
	if view.Snapshot.Disconnect == nil {
		t.Fatalf("window vanished")
	}
	if !view.Snapshot.Disconnect.GraceDeadline.Equal(warned.Disconnect.GraceDeadline) {
		t.Fatalf("deadline moved from %v to %v",
			warned.Disconnect.GraceDeadline, view.Snapshot.Disconnect.GraceDeadline)
	}
	if view.Snapshot.Disconnect.PlayerID != "bob" {
		t.Fatalf("window must stay pinned to the first disconnect")
	}
}

func TestMatch_SecondDisconnectGetsOwnGraceWindow(t *testing.T) {
	p := testParams()
	p.Grace = 200 * time.Millisecond
	m, aliceOut, _ := startMatch(t, p, nil)

	// Bob drops first and a window opens for him.
	m.Inbox() <- Leave{ClientID: "cb"}
	waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Disconnect != nil && s.Disconnect.PlayerID == "bob"
	})

	// Alice drops while bob's window is still open; bob recovers in time.
	m.Inbox() <- Leave{ClientID: "ca"}
	bobOut := make(chan Snapshot, 64)
	m.Inbox() <- Join{ClientID: "cb2", PlayerID: "bob", Outbox: bobOut}

	// Bob's reconnect clears only his window; alice's keeps running.
	warned := waitForSnapshot(t, bobOut, time.Second, func(s Snapshot) bool {
		return s.Disconnect != nil && s.Disconnect.PlayerID == "alice"
	})
	if warned.Game.Status != engine.StatusActive {
		t.Fatalf("game resolved before alice's window expired")
	}

	// Alice never returns; her window expires and forfeits her game.
	snap := waitForSnapshot(t, bobOut, time.Second, func(s Snapshot) bool {
		return s.Game.Status == engine.StatusWon
	})
	if snap.Game.Winner != engine.SideWhite {
		t.Fatalf("alice (black) must forfeit game one, winner=%s", snap.Game.Winner)
	}
	if snap.Series.Score["bob"] != 1 {
		t.Fatalf("bob should be awarded the game, score=%+v", snap.Series.Score)
	}
}

func TestMatch_GraceExpiryForfeitsCurrentGame(t *testing.T) {
	p := testParams()
	p.Grace = 60 * time.Millisecond
	p.Countdown = time.Second
	m, aliceOut, _ := startMatch(t, p, nil)

	m.Inbox() <- Leave{ClientID: "cb"}
	snap := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Game.Status == engine.StatusWon
	})
	if snap.Game.Winner != engine.SideWhite {
		t.Fatalf("unrecovered disconnect forfeits bob's game, winner=%s", snap.Game.Winner)
	}
	if snap.Series.Score["alice"] != 1 {
		t.Fatalf("alice should be awarded the game, score=%+v", snap.Series.Score)
	}
	if snap.Series.Phase != series.PhaseNextGameCountdown {
		t.Fatalf("a single game forfeit must not end the series, phase=%s", snap.Series.Phase)
	}
	if snap.Disconnect == nil {
		t.Fatalf("bob is still gone; a fresh window must cover the countdown")
	}
}

func TestMatch_UnrecoveredDisconnectAbandonsSeries(t *testing.T) {
	p := testParams()
	p.Grace = 50 * time.Millisecond
	p.Countdown = time.Second // second expiry lands inside the countdown

	var finalized atomic.Int32
	m, aliceOut, _ := startMatch(t, p, func(Result) { finalized.Add(1) })

	m.Inbox() <- Leave{ClientID: "cb"}
	snap := waitForSnapshot(t, aliceOut, 2*time.Second, func(s Snapshot) bool {
		return s.Series.Phase.Terminal()
	})
	if snap.Series.Phase != series.PhaseSeriesAbandoned || snap.Series.Winner != "alice" {
		t.Fatalf("presence loss spanning the series must abandon it for alice, got %+v", snap.Series)
	}
	if len(snap.Rewards) != 2 {
		t.Fatalf("abandonment still settles rank once, rewards=%+v", snap.Rewards)
	}

	time.Sleep(100 * time.Millisecond)
	if n := finalized.Load(); n != 1 {
		t.Fatalf("finalize sink must fire exactly once, fired %d times", n)
	}
}

func TestMatch_FullSeriesResolvesWithRewardsExactlyOnce(t *testing.T) {
	p := testParams()
	p.Countdown = 30 * time.Millisecond

	var finalized atomic.Int32
	m, aliceOut, _ := startMatch(t, p, func(Result) { finalized.Add(1) })

	// Game 1: alice opens as black and wins.
	playQuickWin(t, m, "alice", "bob", true)
	waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Game.Number == 2 && s.Series.Phase == series.PhaseGameInProgress
	})

	// Game 2: bob opens as black and evens the series.
	playQuickWin(t, m, "bob", "alice", true)
	waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Game.Number == 3 && s.Series.Phase == series.PhaseGameInProgress
	})

	// Game 3: alice is black again and takes the series.
	playQuickWin(t, m, "alice", "bob", true)
	snap := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Series.Phase.Terminal()
	})

	if snap.Series.Phase != series.PhaseSeriesResolved || snap.Series.Winner != "alice" {
		t.Fatalf("want alice winning 2-1, got %+v", snap.Series)
	}
	if len(snap.Rewards) != 2 {
		t.Fatalf("want two rank deltas, got %+v", snap.Rewards)
	}
	// 27 total moves: base 20 + quick-win 10, no time bonus at a 10s
	// budget, level tiers.
	for _, d := range snap.Rewards {
		switch d.PlayerID {
		case "alice":
			if d.Points != 30 {
				t.Fatalf("alice delta: want +30, got %+d", d.Points)
			}
		case "bob":
			if d.Points != -15 {
				t.Fatalf("bob delta: want -15, got %+d", d.Points)
			}
		}
	}

	time.Sleep(100 * time.Millisecond)
	if n := finalized.Load(); n != 1 {
		t.Fatalf("finalize sink fired %d times", n)
	}

	// Late duplicate completion signals bounce off the terminal phase.
	m.Inbox() <- Surrender{PlayerID: "bob"}
	time.Sleep(50 * time.Millisecond)
	if n := finalized.Load(); n != 1 {
		t.Fatalf("duplicate resolution leaked through the finalized guard: %d", n)
	}
}

func TestMatch_SurrenderAbandonsImmediately(t *testing.T) {
	p := testParams()
	var finalized atomic.Int32
	m, aliceOut, _ := startMatch(t, p, func(Result) { finalized.Add(1) })

	mustMove(t, m, "alice", 7, 7)
	m.Inbox() <- Surrender{PlayerID: "bob"}

	snap := waitForSnapshot(t, aliceOut, time.Second, func(s Snapshot) bool {
		return s.Series.Phase.Terminal()
	})
	if snap.Series.Phase != series.PhaseSeriesAbandoned || snap.Series.Winner != "alice" {
		t.Fatalf("surrender must resolve the series for the opponent, got %+v", snap.Series)
	}
	time.Sleep(50 * time.Millisecond)
	if finalized.Load() != 1 {
		t.Fatalf("surrender must settle rank exactly once")
	}
}

func TestMatch_ShutdownStopsTimersAndClosesOutboxes(t *testing.T) {
	p := testParams()
	p.MoveTimer = 80 * time.Millisecond
	m, aliceOut, _ := startMatch(t, p, nil)

	m.Inbox() <- Shutdown{}

	// The outbox closes and the armed timer never produces a forfeiture.
	deadline := time.After(time.Second)
	for {
		select {
		case snap, ok := <-aliceOut:
			if !ok {
				return
			}
			if snap.Game.Status != engine.StatusActive {
				t.Fatalf("timer fired after shutdown")
			}
		case <-deadline:
			t.Fatalf("outbox never closed after shutdown")
		}
	}
}
