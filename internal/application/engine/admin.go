package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// SetParams replaces the round parameters. Rounds already open keep their
// schedule; the new values apply from the next lifecycle step.
func (e *Engine) SetParams(ctx context.Context, caller string, p domain.Params) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.SetParams: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("engine.SetParams: %w", err)
		}
		st := e.ledger.State()
		ev := domain.ParamsUpdated{Meta: domain.NewMeta(st.CurrentEpoch, e.now()), Params: p.Clone()}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.SetParams: %w", err)
		}
		slog.Info("params updated",
			"interval", p.Interval,
			"buffer", p.Buffer,
			"min_bet_amount", domain.AmountString(p.MinBetAmount),
			"treasury_fee_bps", p.TreasuryFeeBps,
		)
		return []domain.Event{ev}, nil
	})
}

// Pause stops new bets. The lifecycle and claims keep working.
func (e *Engine) Pause(ctx context.Context, caller string) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleAdmin, domain.RoleOperator); err != nil {
			return nil, fmt.Errorf("engine.Pause: %w", err)
		}
		st := e.ledger.State()
		if st.Paused {
			return nil, nil
		}
		ev := domain.BettingPaused{Meta: domain.NewMeta(st.CurrentEpoch, e.now())}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.Pause: %w", err)
		}
		slog.Warn("betting paused", "by", caller)
		return []domain.Event{ev}, nil
	})
}

func (e *Engine) Unpause(ctx context.Context, caller string) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.Unpause: %w", err)
		}
		st := e.ledger.State()
		if !st.Paused {
			return nil, nil
		}
		ev := domain.BettingUnpaused{Meta: domain.NewMeta(st.CurrentEpoch, e.now())}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.Unpause: %w", err)
		}
		slog.Info("betting unpaused", "by", caller)
		return []domain.Event{ev}, nil
	})
}

func (e *Engine) SetOperator(ctx context.Context, caller, operator string) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.SetOperator: %w", err)
		}
		if operator == "" {
			return nil, fmt.Errorf("engine.SetOperator: %w: empty operator", domain.ErrInvalidParams)
		}
		st := e.ledger.State()
		ev := domain.OperatorChanged{Meta: domain.NewMeta(st.CurrentEpoch, e.now()), Operator: operator}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.SetOperator: %w", err)
		}
		slog.Info("operator changed", "operator", operator)
		return []domain.Event{ev}, nil
	})
}

// ChangeLockPrice overrides the lock price of a locked round before it closes.
func (e *Engine) ChangeLockPrice(ctx context.Context, caller string, epoch uint64, price int64) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.ChangeLockPrice: %w", err)
		}
		r, ok := e.ledger.Round(epoch)
		if !ok {
			return nil, fmt.Errorf("engine.ChangeLockPrice: %w: epoch %d", domain.ErrRoundNotFound, epoch)
		}
		if r.Status != domain.RoundLocked {
			return nil, fmt.Errorf("engine.ChangeLockPrice: %w: epoch %d is %s", domain.ErrInvalidRoundState, epoch, r.Status)
		}
		ev := domain.LockPriceChanged{Meta: domain.NewMeta(epoch, e.now()), Price: price}
		if err := e.commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine.ChangeLockPrice: %w", err)
		}
		slog.Warn("lock price overridden", "epoch", epoch, "price", price, "previous", priceAttr(r.LockPrice))
		return []domain.Event{ev}, nil
	})
}
