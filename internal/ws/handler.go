package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/hub"
	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/pkg/types"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second
)

// Handler upgrades a client onto the sync channel for one match. Every
// committed mutation reaches the client as a versioned snapshot; commands
// flow the other way. Closing the socket, a read error, or a failed ping is
// what the presence monitor sees as a disconnect.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		playerID := r.URL.Query().Get("player")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		reply := make(chan *match.Match, 1)
		h.Inbox() <- hub.GetMatch{ID: matchID, Reply: reply}
		mt := <-reply
		if mt == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan match.Snapshot, 8)
		clientID := randID(6)

		mt.Inbox() <- match.Join{ClientID: clientID, PlayerID: playerID, Outbox: out}
		defer func() { mt.Inbox() <- match.Leave{ClientID: clientID} }()

		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()

		// A silently dropped TCP peer produces no read error on its own;
		// the keepalive probe is what turns that into a disconnect.
		go keepalive(connCtx, connCancel, conn, pingInterval, pingTimeout)

		// Writer goroutine: snapshots out until the actor closes the outbox.
		writeCtx, writeCancel := context.WithCancel(connCtx)
		defer writeCancel()
		go func() {
			for snap := range out {
				msg := types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Snapshot: &snap}
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Error("marshal snapshot", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop.
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, types.CodeInternal, "bad json")
				continue
			}

			switch cm.Type {
			case "PlaceStone":
				res := make(chan match.MoveResult, 1)
				mt.Inbox() <- match.SubmitMove{PlayerID: playerID, X: cm.X, Y: cm.Y, Seq: cm.Seq, Reply: res}
				if mr := <-res; !mr.Accepted {
					// Synchronous rejection: the client rolls its
					// speculative stone back and keeps the session.
					writeError(r.Context(), conn, types.CodeFor(mr.Err), mr.Err.Error())
				}
			case "Surrender":
				mt.Inbox() <- match.Surrender{PlayerID: playerID}
			default:
				writeError(r.Context(), conn, types.CodeInternal, "unknown type")
			}
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// keepalive probes the peer until ctx ends or a probe fails, then cancels so
// the reader unblocks and the actor sees the leave.
func keepalive(ctx context.Context, cancel context.CancelFunc, p pinger, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, timeout)
			err := p.Ping(pctx)
			pcancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "Error", Code: code, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
