package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
)

// PlaceBet records caller's stake on pos for the open round epoch.
// A user gets at most one bet per round.
func (e *Engine) PlaceBet(ctx context.Context, caller string, epoch uint64, pos domain.Position, amount *uint256.Int) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if caller == "" {
			return nil, fmt.Errorf("engine.PlaceBet: %w: anonymous caller", domain.ErrUnauthorized)
		}
		if !pos.Valid() {
			return nil, fmt.Errorf("engine.PlaceBet: %w: %d", domain.ErrInvalidPosition, pos)
		}

		st := e.ledger.State()
		if st.Paused {
			return nil, fmt.Errorf("engine.PlaceBet: %w", domain.ErrPaused)
		}
		if epoch != st.CurrentEpoch {
			return nil, fmt.Errorf("engine.PlaceBet: %w: epoch %d is not the open round %d",
				domain.ErrInvalidRoundState, epoch, st.CurrentEpoch)
		}
		r, err := e.openRound(epoch)
		if err != nil {
			return nil, fmt.Errorf("engine.PlaceBet: %w", err)
		}

		now := e.now()
		if !r.Bettable(now) {
			return nil, fmt.Errorf("engine.PlaceBet: %w: epoch %d accepts bets until %s",
				domain.ErrTimingViolation, epoch, r.LockTime)
		}
		if amount == nil || amount.IsZero() || amount.Lt(st.Params.MinBetAmount) {
			return nil, fmt.Errorf("engine.PlaceBet: %w: minimum is %s",
				domain.ErrBelowMinimumStake, domain.AmountString(st.Params.MinBetAmount))
		}
		if _, dup := e.ledger.Bet(epoch, caller); dup {
			return nil, fmt.Errorf("engine.PlaceBet: %w: epoch %d", domain.ErrDuplicateBet, epoch)
		}

		bull, bear := r.BullAmount, r.BearAmount
		if pos == domain.PositionBull {
			bull = new(uint256.Int).Add(bull, amount)
		} else {
			bear = new(uint256.Int).Add(bear, amount)
		}
		ev := domain.BetPlaced{
			Meta:        domain.NewMeta(epoch, now),
			User:        caller,
			Position:    pos,
			Amount:      amount.Clone(),
			PlacedAt:    now,
			TotalAmount: new(uint256.Int).Add(r.TotalAmount, amount),
			BullAmount:  bull,
			BearAmount:  bear,
		}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.PlaceBet: %w", err)
		}

		slog.Info("bet placed",
			"epoch", epoch,
			"user", caller,
			"position", pos,
			"amount", domain.AmountString(amount),
			"total_amount", domain.AmountString(ev.TotalAmount),
		)
		return []domain.Event{ev}, nil
	})
}
