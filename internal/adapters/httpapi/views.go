package httpapi

import (
	"time"

	"github.com/alejandrodnm/polypredict/internal/application/engine"
	"github.com/alejandrodnm/polypredict/internal/domain"
)

// Los importes se serializan como strings decimales en unidades base.

type roundView struct {
	Epoch            uint64    `json:"epoch"`
	Status           string    `json:"status"`
	StartTime        time.Time `json:"start_time"`
	LockTime         time.Time `json:"lock_time"`
	CloseTime        time.Time `json:"close_time"`
	LockPrice        *int64    `json:"lock_price"`
	ClosePrice       *int64    `json:"close_price"`
	TotalAmount      string    `json:"total_amount"`
	BullAmount       string    `json:"bull_amount"`
	BearAmount       string    `json:"bear_amount"`
	RewardBaseAmount string    `json:"reward_base_amount"`
	RewardAmount     string    `json:"reward_amount"`
	OracleCalled     bool      `json:"oracle_called"`
	Winner           string    `json:"winner,omitempty"`
	RefundReason     string    `json:"refund_reason,omitempty"`
}

func newRoundView(r domain.Round) roundView {
	v := roundView{
		Epoch:            r.Epoch,
		Status:           r.Status.String(),
		StartTime:        r.StartTime,
		LockTime:         r.LockTime,
		CloseTime:        r.CloseTime,
		LockPrice:        r.LockPrice,
		ClosePrice:       r.ClosePrice,
		TotalAmount:      domain.AmountString(r.TotalAmount),
		BullAmount:       domain.AmountString(r.BullAmount),
		BearAmount:       domain.AmountString(r.BearAmount),
		RewardBaseAmount: domain.AmountString(r.RewardBaseAmount),
		RewardAmount:     domain.AmountString(r.RewardAmount),
		OracleCalled:     r.OracleCalled,
		RefundReason:     string(r.RefundReason),
	}
	if w, ok := r.Winner(); ok {
		v.Winner = w.String()
	}
	return v
}

type betView struct {
	Epoch      uint64    `json:"epoch"`
	User       string    `json:"user"`
	Position   string    `json:"position"`
	Amount     string    `json:"amount"`
	Claimed    bool      `json:"claimed"`
	PlacedAt   time.Time `json:"placed_at"`
	Claimable  bool      `json:"claimable"`
	Refundable bool      `json:"refundable"`
	Payout     string    `json:"payout,omitempty"`
}

type userRoundView struct {
	Bet   betView   `json:"bet"`
	Round roundView `json:"round"`
}

func newUserRoundView(ur engine.UserRound) userRoundView {
	b, r := ur.Bet, ur.Round
	bv := betView{
		Epoch:      b.Epoch,
		User:       b.User,
		Position:   b.Position.String(),
		Amount:     domain.AmountString(b.Amount),
		Claimed:    b.Claimed,
		PlacedAt:   b.PlacedAt,
		Claimable:  domain.Claimable(r, b),
		Refundable: domain.Refundable(r, b),
	}
	switch {
	case bv.Claimable:
		bv.Payout = domain.AmountString(domain.Payout(b.Amount, r.RewardAmount, r.RewardBaseAmount))
	case bv.Refundable:
		bv.Payout = domain.AmountString(b.Amount)
	}
	return userRoundView{Bet: bv, Round: newRoundView(r)}
}

type paramsView struct {
	IntervalSeconds              int64  `json:"interval_seconds"`
	BufferSeconds                int64  `json:"buffer_seconds"`
	MinBetAmount                 string `json:"min_bet_amount"`
	TreasuryFeeBps               uint64 `json:"treasury_fee_bps"`
	OracleUpdateAllowanceSeconds int64  `json:"oracle_update_allowance_seconds"`
}

func newParamsView(p domain.Params) paramsView {
	return paramsView{
		IntervalSeconds:              int64(p.Interval / time.Second),
		BufferSeconds:                int64(p.Buffer / time.Second),
		MinBetAmount:                 domain.AmountString(p.MinBetAmount),
		TreasuryFeeBps:               p.TreasuryFeeBps,
		OracleUpdateAllowanceSeconds: int64(p.OracleUpdateAllowance / time.Second),
	}
}

type stateView struct {
	CurrentEpoch      uint64     `json:"current_epoch"`
	GenesisStarted    bool       `json:"genesis_started"`
	GenesisLocked     bool       `json:"genesis_locked"`
	Paused            bool       `json:"paused"`
	TreasuryBalance   string     `json:"treasury_balance"`
	LastOracleRoundID uint64     `json:"last_oracle_round_id"`
	Admin             string     `json:"admin"`
	Operator          string     `json:"operator"`
	Params            paramsView `json:"params"`
}

func newStateView(st domain.State) stateView {
	return stateView{
		CurrentEpoch:      st.CurrentEpoch,
		GenesisStarted:    st.GenesisStarted,
		GenesisLocked:     st.GenesisLocked,
		Paused:            st.Paused,
		TreasuryBalance:   domain.AmountString(st.TreasuryBalance),
		LastOracleRoundID: st.LastOracleRoundID,
		Admin:             st.Admin,
		Operator:          st.Operator,
		Params:            newParamsView(st.Params),
	}
}

type claimView struct {
	User     string   `json:"user"`
	Paid     string   `json:"paid"`
	Claimed  []uint64 `json:"claimed"`
	Refunded []uint64 `json:"refunded"`
	Skipped  []uint64 `json:"skipped"`
}

func newClaimView(res engine.ClaimResult) claimView {
	v := claimView{
		User:     res.User,
		Paid:     domain.AmountString(res.Paid),
		Claimed:  res.Claimed,
		Refunded: res.Refunded,
		Skipped:  res.Skipped,
	}
	if v.Claimed == nil {
		v.Claimed = []uint64{}
	}
	if v.Refunded == nil {
		v.Refunded = []uint64{}
	}
	if v.Skipped == nil {
		v.Skipped = []uint64{}
	}
	return v
}
