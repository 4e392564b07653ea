package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
)

func testParams() match.Params {
	return match.Params{
		MoveTimer: time.Second,
		TotalTime: 10 * time.Second,
		Grace:     time.Second,
		Countdown: time.Second,
		Rank:      rank.DefaultConfig(),
	}
}

func newHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, zap.NewNop(), testParams(), nil, nil)
}

func create(t *testing.T, h *Hub, id string) *match.Match {
	t.Helper()
	reply := make(chan *match.Match, 1)
	st := series.New(id, "alice", "bob", "alice", time.Now())
	h.Inbox() <- CreateMatch{Series: st, Reply: reply}
	select {
	case mt := <-reply:
		return mt
	case <-time.After(time.Second):
		t.Fatalf("timed out creating match")
		return nil // unreachable
	}
}

func TestHub_CreateGetSamePointer(t *testing.T) {
	h := newHub(t)
	mt1 := create(t, h, "s1")

	reply := make(chan *match.Match, 1)
	h.Inbox() <- GetMatch{ID: "s1", Reply: reply}
	mt2 := <-reply

	if mt1 == nil || mt2 == nil || mt1 != mt2 {
		t.Fatalf("expected the same match pointer")
	}
}

func TestHub_CreateIsIdempotentPerSeries(t *testing.T) {
	h := newHub(t)
	mt1 := create(t, h, "s1")
	mt2 := create(t, h, "s1")
	if mt1 != mt2 {
		t.Fatalf("duplicate create must return the existing actor")
	}
}

func TestHub_GetUnknownReturnsNil(t *testing.T) {
	h := newHub(t)
	reply := make(chan *match.Match, 1)
	h.Inbox() <- GetMatch{ID: "nope", Reply: reply}
	if mt := <-reply; mt != nil {
		t.Fatalf("unknown id must yield nil")
	}
}

func TestHub_RemoveMatchDropsRegistration(t *testing.T) {
	h := newHub(t)
	create(t, h, "s1")
	h.Inbox() <- RemoveMatch{ID: "s1"}

	reply := make(chan *match.Match, 1)
	h.Inbox() <- GetMatch{ID: "s1", Reply: reply}
	if mt := <-reply; mt != nil {
		t.Fatalf("removed match still registered")
	}
}

func TestHub_ListMatches(t *testing.T) {
	h := newHub(t)
	create(t, h, "s1")
	create(t, h, "s2")

	reply := make(chan []string, 1)
	h.Inbox() <- ListMatches{Reply: reply}
	ids := <-reply
	if len(ids) != 2 {
		t.Fatalf("want two live matches, got %v", ids)
	}
}
