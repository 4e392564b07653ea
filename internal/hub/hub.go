// Package hub is the registry actor: one Match actor per live series,
// created and looked up through a serialized inbox.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
)

type HubMsg interface{ isHubMsg() }

// CreateMatch spins up the actor for a freshly paired series. Pairing and
// first-game side assignment come from the lobby service upstream.
type CreateMatch struct {
	Series    series.State
	Standings []rank.Standing
	Reply     chan *match.Match
}

type GetMatch struct {
	ID    string
	Reply chan *match.Match
}

type ListMatches struct {
	Reply chan []string
}

type RemoveMatch struct {
	ID string
}

type ShutdownHub struct{}

func (CreateMatch) isHubMsg() {}
func (GetMatch) isHubMsg()    {}
func (ListMatches) isHubMsg() {}
func (RemoveMatch) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	matches map[string]*match.Match
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger

	params      match.Params
	publisher   match.Publisher
	onFinalized func(match.Result)
}

func NewHub(parent context.Context, log *zap.Logger, params match.Params, publisher match.Publisher, onFinalized func(match.Result)) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:       make(chan HubMsg, 64),
		matches:     make(map[string]*match.Match),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		params:      params,
		publisher:   publisher,
		onFinalized: onFinalized,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateMatch:
				if mt := h.matches[msg.Series.ID]; mt != nil {
					msg.Reply <- mt
					break
				}
				mt := match.New(h.ctx, h.log, msg.Series, msg.Standings, h.params, h.publisher, h.onFinalized)
				h.matches[msg.Series.ID] = mt
				h.log.Info("match created", zap.String("series_id", msg.Series.ID))
				msg.Reply <- mt

			case GetMatch:
				msg.Reply <- h.matches[msg.ID] // may be nil

			case ListMatches:
				ids := make([]string, 0, len(h.matches))
				for id := range h.matches {
					ids = append(ids, id)
				}
				msg.Reply <- ids

			case RemoveMatch:
				if mt := h.matches[msg.ID]; mt != nil {
					mt.Inbox() <- match.Shutdown{}
					delete(h.matches, msg.ID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, mt := range h.matches {
		mt.Inbox() <- match.Shutdown{}
		delete(h.matches, id)
	}
	h.cancel()
}
