package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
)

// ClaimResult summarises one ClaimReward call.
type ClaimResult struct {
	User     string       `json:"user"`
	Paid     *uint256.Int `json:"paid"`
	Claimed  []uint64     `json:"claimed"`  // winning bets
	Refunded []uint64     `json:"refunded"` // refundable rounds
	Skipped  []uint64     `json:"skipped"`
}

// ClaimReward pays caller for every listed epoch that is claimable or
// refundable, in a single transfer. Epochs that pay nothing are skipped; if
// none pays, the result lists them as skipped and ErrNothingToClaim is returned.
//
// Without an external payer the payout is a credit committed in the same
// transaction that marks the bets claimed. With one, bets are marked claimed
// and persisted before the transfer runs, so a payer that calls back into the
// engine sees nothing left to claim; if the transfer fails the marks are
// reverted and the error is returned.
func (e *Engine) ClaimReward(ctx context.Context, caller string, epochs []uint64) (ClaimResult, error) {
	if len(epochs) == 0 {
		return ClaimResult{}, fmt.Errorf("engine.ClaimReward: %w: no epochs", domain.ErrNothingToClaim)
	}
	if caller == "" {
		return ClaimResult{}, fmt.Errorf("engine.ClaimReward: %w: anonymous caller", domain.ErrUnauthorized)
	}

	var res ClaimResult
	var events []domain.Event
	err := e.locked(ctx, func() error {
		res = ClaimResult{User: caller, Paid: domain.Zero()}
		events = nil

		now := e.now()
		seen := make(map[uint64]bool, len(epochs))
		for _, epoch := range epochs {
			if seen[epoch] {
				continue
			}
			seen[epoch] = true

			r, okRound := e.ledger.Round(epoch)
			b, okBet := e.ledger.Bet(epoch, caller)
			switch {
			case okRound && okBet && domain.Claimable(r, b):
				amount := domain.Payout(b.Amount, r.RewardAmount, r.RewardBaseAmount)
				events = append(events, domain.RewardClaimed{Meta: domain.NewMeta(epoch, now), User: caller, Amount: amount})
				res.Paid.Add(res.Paid, amount)
				res.Claimed = append(res.Claimed, epoch)
			case okRound && okBet && domain.Refundable(r, b):
				amount := b.Amount.Clone()
				events = append(events, domain.RewardClaimed{Meta: domain.NewMeta(epoch, now), User: caller, Amount: amount, Refund: true})
				res.Paid.Add(res.Paid, amount)
				res.Refunded = append(res.Refunded, epoch)
			default:
				res.Skipped = append(res.Skipped, epoch)
			}
		}
		if len(events) == 0 {
			return nil
		}
		return e.commitCredits(ctx, e.credits(events[0], caller, res.Paid), events...)
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine.ClaimReward: %w", err)
	}
	if len(events) == 0 {
		return res, fmt.Errorf("engine.ClaimReward: %w: epochs %v", domain.ErrNothingToClaim, epochs)
	}

	if e.payer != nil && !res.Paid.IsZero() {
		if err := e.payer.Transfer(ctx, caller, res.Paid); err != nil {
			paid := make([]uint64, 0, len(res.Claimed)+len(res.Refunded))
			paid = append(append(paid, res.Claimed...), res.Refunded...)
			revert := domain.TransferReverted{
				Meta:   domain.NewMeta(paid[0], e.now()),
				User:   caller,
				Amount: res.Paid.Clone(),
				Epochs: paid,
			}
			return ClaimResult{}, fmt.Errorf("engine.ClaimReward: %w", e.revertTransfer(ctx, events, revert, err))
		}
	}

	e.publish(ctx, events)
	slog.Info("reward claimed",
		"user", caller,
		"amount", domain.AmountString(res.Paid),
		"claimed", res.Claimed,
		"refunded", res.Refunded,
	)
	return res, nil
}

// ClaimTreasury transfers the whole treasury balance to to, or to the caller
// when to is empty.
func (e *Engine) ClaimTreasury(ctx context.Context, caller, to string) (*uint256.Int, error) {
	if to == "" {
		to = caller
	}
	var ev domain.TreasuryClaimed
	err := e.locked(ctx, func() error {
		if err := e.authorize(caller, domain.RoleAdmin); err != nil {
			return err
		}
		st := e.ledger.State()
		if st.TreasuryBalance.IsZero() {
			return fmt.Errorf("%w: treasury is empty", domain.ErrNothingToClaim)
		}
		ev = domain.TreasuryClaimed{
			Meta:            domain.NewMeta(st.CurrentEpoch, e.now()),
			To:              to,
			Amount:          st.TreasuryBalance.Clone(),
			TreasuryBalance: domain.Zero(),
		}
		return e.commitCredits(ctx, e.credits(ev, to, ev.Amount), ev)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.ClaimTreasury: %w", err)
	}

	if e.payer == nil {
		e.publish(ctx, []domain.Event{ev})
		slog.Info("treasury claimed", "to", to, "amount", domain.AmountString(ev.Amount))
		return ev.Amount, nil
	}
	if err := e.payer.Transfer(ctx, to, ev.Amount); err != nil {
		revert := domain.TransferReverted{
			Meta:     domain.NewMeta(ev.Epoch, e.now()),
			User:     to,
			Amount:   ev.Amount.Clone(),
			Treasury: true,
		}
		return nil, fmt.Errorf("engine.ClaimTreasury: %w", e.revertTransfer(ctx, []domain.Event{ev}, revert, err))
	}

	e.publish(ctx, []domain.Event{ev})
	slog.Info("treasury claimed", "to", to, "amount", domain.AmountString(ev.Amount))
	return ev.Amount, nil
}

// revertTransfer undoes the claim marks of a payout whose transfer failed.
// Both the claim events and the revert are published so sinks see the same
// sequence the store holds.
func (e *Engine) revertTransfer(ctx context.Context, done []domain.Event, revert domain.TransferReverted, cause error) error {
	err := e.locked(ctx, func() error {
		return e.commit(ctx, revert)
	})
	if err != nil {
		slog.Error("transfer failed and revert could not be persisted",
			"user", revert.User,
			"amount", domain.AmountString(revert.Amount),
			"cause", cause,
			"err", err,
		)
		return fmt.Errorf("transfer: %w (revert: %v)", cause, err)
	}

	e.publish(ctx, append(append([]domain.Event(nil), done...), revert))
	slog.Warn("transfer failed, claim reverted",
		"user", revert.User,
		"amount", domain.AmountString(revert.Amount),
		"err", cause,
	)
	return fmt.Errorf("transfer: %w", cause)
}

// credits returns the payout to commit along with the claim, or nothing when an
// external payer settles it afterwards.
func (e *Engine) credits(claim domain.Event, to string, amount *uint256.Int) []domain.Credit {
	if e.payer != nil || amount.IsZero() {
		return nil
	}
	return []domain.Credit{{ID: claim.Metadata().ID, To: to, Amount: amount.Clone()}}
}
