package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// RefundReason explica por qué una ronda terminó sin ganador.
type RefundReason string

const (
	ReasonNone        RefundReason = ""
	ReasonOneSided    RefundReason = "one_sided"
	ReasonOracleStale RefundReason = "oracle_stale"
	ReasonTie         RefundReason = "tie"
	ReasonExpired     RefundReason = "expired"
)

// Settlement es el veredicto de liquidación de una ronda.
type Settlement struct {
	Status           RoundStatus  `json:"status"`           // RoundResolved o RoundRefundable
	Winner           Position     `json:"winner,omitempty"` // 0 si es Refundable
	RewardBaseAmount *uint256.Int `json:"reward_base_amount"`
	RewardAmount     *uint256.Int `json:"reward_amount"`
	TreasuryFee      *uint256.Int `json:"treasury_fee"`
	Reason           RefundReason `json:"reason,omitempty"`
}

func refund(reason RefundReason) Settlement {
	return Settlement{
		Status:           RoundRefundable,
		RewardBaseAmount: Zero(),
		RewardAmount:     Zero(),
		TreasuryFee:      Zero(),
		Reason:           reason,
	}
}

// Expire devuelve el veredicto de una ronda cuyo paso de ciclo de vida nunca se
// ejecutó dentro de su ventana: todos recuperan su stake.
func Expire() Settlement {
	return refund(ReasonExpired)
}

// Settle decide el resultado de una ronda ya cerrada, en este orden:
//  1. sin stake en uno de los lados → Refundable
//  2. precio de oráculo caducado o ausente → Refundable
//  3. close > lock gana Bull, close < lock gana Bear, empate → Refundable
//
// En un resultado decisivo la comisión es TotalAmount - RewardAmount.
func Settle(r Round, treasuryFeeBps uint64) (Settlement, error) {
	if r.Status.Terminal() {
		return Settlement{}, fmt.Errorf("%w: epoch %d already settled as %s", ErrInvalidRoundState, r.Epoch, r.Status)
	}
	if treasuryFeeBps > BasisPoints {
		return Settlement{}, fmt.Errorf("%w: treasury fee %d bps", ErrInvalidParams, treasuryFeeBps)
	}

	bull, bear := cloneAmount(r.BullAmount), cloneAmount(r.BearAmount)
	if bull.IsZero() || bear.IsZero() {
		return refund(ReasonOneSided), nil
	}
	if !r.OracleCalled || r.LockPrice == nil || r.ClosePrice == nil {
		return refund(ReasonOracleStale), nil
	}

	var winner Position
	switch {
	case *r.ClosePrice > *r.LockPrice:
		winner = PositionBull
	case *r.ClosePrice < *r.LockPrice:
		winner = PositionBear
	default:
		return refund(ReasonTie), nil
	}

	total := cloneAmount(r.TotalAmount)
	reward, overflow := new(uint256.Int).MulDivOverflow(
		total,
		uint256.NewInt(BasisPoints-treasuryFeeBps),
		uint256.NewInt(BasisPoints),
	)
	if overflow {
		return Settlement{}, fmt.Errorf("domain.Settle: epoch %d: reward overflow", r.Epoch)
	}

	return Settlement{
		Status:           RoundResolved,
		Winner:           winner,
		RewardBaseAmount: r.PositionAmount(winner),
		RewardAmount:     reward,
		TreasuryFee:      new(uint256.Int).Sub(total, reward),
	}, nil
}

// Payout es lo que cobra un ganador: stake × reward / base, truncado.
// La suma de los payouts de una ronda nunca supera reward.
func Payout(stake, rewardAmount, rewardBaseAmount *uint256.Int) *uint256.Int {
	if stake == nil || rewardBaseAmount == nil || rewardBaseAmount.IsZero() {
		return Zero()
	}
	out, overflow := new(uint256.Int).MulDivOverflow(stake, cloneAmount(rewardAmount), rewardBaseAmount)
	if overflow {
		// stake <= base implica out <= reward; solo un stake inválido llega aquí.
		return Zero()
	}
	return out
}

// Claimable: ronda Resolved, apuesta del lado ganador y sin cobrar.
func Claimable(r Round, b Bet) bool {
	if b.Claimed || b.Amount == nil || b.Amount.IsZero() {
		return false
	}
	winner, ok := r.Winner()
	return ok && b.Position == winner
}

// Refundable: ronda Refundable, apuesta registrada y sin cobrar.
func Refundable(r Round, b Bet) bool {
	if b.Claimed || b.Amount == nil || b.Amount.IsZero() {
		return false
	}
	return r.Status == RoundRefundable
}
