package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/alejandrodnm/polypredict/internal/adapters/storage"
	"github.com/alejandrodnm/polypredict/internal/domain"
)

const (
	defaultRounds   = 10
	maxRounds       = 200
	defaultPageSize = 20
	maxPageSize     = 100
	defaultEvents   = 100
	maxEvents       = 1000
)

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.preds.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"current_epoch": st.CurrentEpoch,
		"paused":        st.Paused,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /api/state
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateView(s.preds.State()))
}

// GET /api/rounds?limit=10
func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	rounds := s.preds.RecentRounds(queryInt(r, "limit", defaultRounds, maxRounds))
	out := make([]roundView, 0, len(rounds))
	for _, rd := range rounds {
		out = append(out, newRoundView(rd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": out})
}

// GET /api/rounds/{epoch}
func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	epoch, ok := pathEpoch(w, r)
	if !ok {
		return
	}
	rd, err := s.preds.GetRound(epoch)
	if err != nil {
		s.writeDomainError(w, r, "get round", err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(rd))
}

// POST /api/rounds/execute
func (s *Server) executeRound(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.preds.ExecuteRound(r.Context(), who); err != nil {
		s.writeDomainError(w, r, "execute round", err)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(s.preds.State()))
}

type betRequest struct {
	Epoch  uint64 `json:"epoch"`
	Amount string `json:"amount"`
}

// POST /api/bets/bull, POST /api/bets/bear
func (s *Server) placeBet(pos domain.Position) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		var req betRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Epoch == 0 {
			writeError(w, http.StatusBadRequest, "epoch is required", "")
			return
		}
		amount, err := domain.ParseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		if err := s.preds.PlaceBet(r.Context(), who, req.Epoch, pos, amount); err != nil {
			s.writeDomainError(w, r, "place bet", err)
			return
		}
		rd, err := s.preds.GetRound(req.Epoch)
		if err != nil {
			s.writeDomainError(w, r, "place bet", err)
			return
		}
		writeJSON(w, http.StatusCreated, newRoundView(rd))
	}
}

type claimRequest struct {
	Epochs []uint64 `json:"epochs"`
}

// POST /api/claims
func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.preds.ClaimReward(r.Context(), who, req.Epochs)
	if errors.Is(err, domain.ErrNothingToClaim) {
		// El cliente necesita saber qué épocas no pagaban.
		writeJSON(w, http.StatusConflict, claimErrorBody{
			Error:   err.Error(),
			Kind:    domain.KindNothingToClaim,
			Skipped: newClaimView(res).Skipped,
		})
		return
	}
	if err != nil {
		s.writeDomainError(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimView(res))
}

// GET /api/users/{user}/rounds?cursor=0&size=20
func (s *Server) userRounds(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	page, next := s.preds.UserRounds(user,
		queryInt(r, "cursor", 0, 0),
		queryInt(r, "size", defaultPageSize, maxPageSize),
	)
	out := make([]userRoundView, 0, len(page))
	for _, ur := range page {
		out = append(out, newUserRoundView(ur))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": out, "next_cursor": next})
}

// GET /api/users/{user}/claimable
func (s *Server) userClaimable(w http.ResponseWriter, r *http.Request) {
	epochs := s.preds.PendingClaims(r.PathValue("user"))
	if epochs == nil {
		epochs = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"epochs": epochs})
}

// GET /api/users/{user}/balance
func (s *Server) userBalance(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	bal, err := s.ledger.Balance(r.Context(), user)
	if err != nil {
		s.writeDomainError(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user": user, "balance": domain.AmountString(bal)})
}

// GET /api/events?after=0&limit=100
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	after := int64(queryInt(r, "after", 0, 0))
	events, err := s.ledger.Events(r.Context(), after, queryInt(r, "limit", defaultEvents, maxEvents))
	if err != nil {
		s.writeDomainError(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []storage.StoredEvent{}
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next_after": next})
}
