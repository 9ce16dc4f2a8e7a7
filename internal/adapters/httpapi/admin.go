package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// adminCommand adapta un comando sin argumentos del motor a un handler.
func (s *Server) adminCommand(cmd func(ctx context.Context, caller string) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		if err := cmd(r.Context(), who); err != nil {
			s.writeDomainError(w, r, "admin "+r.URL.Path, err)
			return
		}
		writeJSON(w, http.StatusOK, newStateView(s.preds.State()))
	})
}

// GET /api/admin/params
func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newParamsView(s.admin.Params()))
}

// paramsRequest es una actualización parcial: los campos ausentes conservan
// su valor actual.
type paramsRequest struct {
	IntervalSeconds              *int64  `json:"interval_seconds"`
	BufferSeconds                *int64  `json:"buffer_seconds"`
	MinBetAmount                 *string `json:"min_bet_amount"`
	TreasuryFeeBps               *uint64 `json:"treasury_fee_bps"`
	OracleUpdateAllowanceSeconds *int64  `json:"oracle_update_allowance_seconds"`
}

func (req paramsRequest) apply(p domain.Params) (domain.Params, error) {
	p = p.Clone()
	if req.IntervalSeconds != nil {
		p.Interval = time.Duration(*req.IntervalSeconds) * time.Second
	}
	if req.BufferSeconds != nil {
		p.Buffer = time.Duration(*req.BufferSeconds) * time.Second
	}
	if req.MinBetAmount != nil {
		v, err := domain.ParseAmount(*req.MinBetAmount)
		if err != nil {
			return p, err
		}
		p.MinBetAmount = v
	}
	if req.TreasuryFeeBps != nil {
		p.TreasuryFeeBps = *req.TreasuryFeeBps
	}
	if req.OracleUpdateAllowanceSeconds != nil {
		p.OracleUpdateAllowance = time.Duration(*req.OracleUpdateAllowanceSeconds) * time.Second
	}
	return p, nil
}

// PUT /api/admin/params
func (s *Server) setParams(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req paramsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := req.apply(s.admin.Params())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), domain.KindInvalidParams)
		return
	}
	if err := s.admin.SetParams(r.Context(), who, p); err != nil {
		s.writeDomainError(w, r, "set params", err)
		return
	}
	writeJSON(w, http.StatusOK, newParamsView(s.admin.Params()))
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

// PUT /api/admin/operator
func (s *Server) setOperator(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req operatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.SetOperator(r.Context(), who, req.Operator); err != nil {
		s.writeDomainError(w, r, "set operator", err)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(s.preds.State()))
}

type lockPriceRequest struct {
	Price int64 `json:"price"`
}

// PUT /api/admin/rounds/{epoch}/lock-price
func (s *Server) changeLockPrice(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	epoch, ok := pathEpoch(w, r)
	if !ok {
		return
	}
	var req lockPriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.ChangeLockPrice(r.Context(), who, epoch, req.Price); err != nil {
		s.writeDomainError(w, r, "change lock price", err)
		return
	}
	rd, err := s.preds.GetRound(epoch)
	if err != nil {
		s.writeDomainError(w, r, "change lock price", err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(rd))
}

type treasuryRequest struct {
	To string `json:"to"`
}

// POST /api/admin/treasury/claim
func (s *Server) claimTreasury(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req treasuryRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	amount, err := s.admin.ClaimTreasury(r.Context(), who, req.To)
	if err != nil {
		s.writeDomainError(w, r, "claim treasury", err)
		return
	}
	to := req.To
	if to == "" {
		to = who
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": to, "amount": domain.AmountString(amount)})
}
