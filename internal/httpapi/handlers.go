package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/hub"
	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/rank"
	"github.com/gomokuhub/match-backend/internal/series"
	"github.com/gomokuhub/match-backend/pkg/types"
)

// CreateMatchRequest comes from the lobby service once a pair is formed. It
// supplies the first-game side assignment and each player's current standing
// for the rank calculation at series end.
type CreateMatchRequest struct {
	PlayerA    string `json:"player_a"`
	PlayerB    string `json:"player_b"`
	FirstBlack string `json:"first_black,omitempty"`
	PointsA    int    `json:"points_a"`
	PointsB    int    `json:"points_b"`
	TierA      int    `json:"tier_a"`
	TierB      int    `json:"tier_b"`
}

type CreateMatchResponse struct {
	MatchID string `json:"match_id"`
}

func CreateMatch(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.PlayerA == "" || req.PlayerB == "" || req.PlayerA == req.PlayerB {
			http.Error(w, "two distinct players required", http.StatusBadRequest)
			return
		}
		firstBlack := req.FirstBlack
		if firstBlack == "" {
			firstBlack = req.PlayerA
		}
		if firstBlack != req.PlayerA && firstBlack != req.PlayerB {
			http.Error(w, "first_black must be a participant", http.StatusBadRequest)
			return
		}

		st := series.New(uuid.NewString(), req.PlayerA, req.PlayerB, firstBlack, time.Now())
		standings := []rank.Standing{
			{PlayerID: req.PlayerA, Points: req.PointsA, Tier: req.TierA},
			{PlayerID: req.PlayerB, Points: req.PointsB, Tier: req.TierB},
		}

		reply := make(chan *match.Match, 1)
		h.Inbox() <- hub.CreateMatch{Series: st, Standings: standings, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create match", http.StatusInternalServerError)
			return
		}

		log.Info("match requested",
			zap.String("series_id", st.ID),
			zap.String("player_a", req.PlayerA),
			zap.String("player_b", req.PlayerB))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreateMatchResponse{MatchID: st.ID})
	}
}

type SubmitMoveRequest struct {
	Player string `json:"player"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Seq    int    `json:"seq,omitempty"`
}

type SubmitMoveResponse struct {
	Accepted  bool            `json:"accepted"`
	Version   int             `json:"version"`
	State     *match.Snapshot `json:"state,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// SubmitMove is the synchronous move path: validate, commit, respond. A
// rejection tells the client to roll back its speculative placement.
func SubmitMove(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, ok := lookup(h, w, r)
		if !ok {
			return
		}
		var req SubmitMoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		res := make(chan match.MoveResult, 1)
		mt.Inbox() <- match.SubmitMove{PlayerID: req.Player, X: req.X, Y: req.Y, Seq: req.Seq, Reply: res}
		mr := <-res

		resp := SubmitMoveResponse{Accepted: mr.Accepted, Version: mr.Version}
		if mr.Accepted {
			resp.State = mr.Snapshot
		} else {
			resp.ErrorCode = types.CodeFor(mr.Err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// GetState is the polling staleness fallback: same versioned snapshot as the
// push path, fetched on demand. Consumers apply it only if the version is
// strictly newer than what they hold.
func GetState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, ok := lookup(h, w, r)
		if !ok {
			return
		}
		reply := make(chan match.View, 1)
		mt.Inbox() <- match.GetView{Reply: reply}
		view := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view.Snapshot)
	}
}

func lookup(h *hub.Hub, w http.ResponseWriter, r *http.Request) (*match.Match, bool) {
	id := chi.URLParam(r, "id")
	reply := make(chan *match.Match, 1)
	h.Inbox() <- hub.GetMatch{ID: id, Reply: reply}
	mt := <-reply
	if mt == nil {
		http.Error(w, "match not found", http.StatusNotFound)
		return nil, false
	}
	return mt, true
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
