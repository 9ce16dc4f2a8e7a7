package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
)

// GenesisStart opens the first round. After RecoverStalled it opens the round
// following the last one recorded.
func (e *Engine) GenesisStart(ctx context.Context, caller string) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleOperator, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.GenesisStart: %w", err)
		}
		st := e.ledger.State()
		if st.GenesisStarted {
			return nil, fmt.Errorf("engine.GenesisStart: %w: genesis already started", domain.ErrInvalidRoundState)
		}

		now := e.now()
		start := startEvent(st.CurrentEpoch+1, now, st.Params.Interval, true)
		if err := e.commit(ctx, start); err != nil {
			return nil, fmt.Errorf("engine.GenesisStart: %w", err)
		}

		slog.Info("round started", "epoch", start.Epoch, "lock_time", start.LockTime, "genesis", true)
		return []domain.Event{start}, nil
	})
}

// GenesisLock locks the genesis round and opens the next one.
func (e *Engine) GenesisLock(ctx context.Context, caller string) error {
	target := func(now time.Time) (domain.State, domain.Round, error) {
		if err := e.authorize(caller, domain.RoleOperator, domain.RoleAdmin); err != nil {
			return domain.State{}, domain.Round{}, err
		}
		st := e.ledger.State()
		if !st.GenesisStarted || st.GenesisLocked {
			return st, domain.Round{}, fmt.Errorf("%w: genesis started=%t locked=%t",
				domain.ErrInvalidRoundState, st.GenesisStarted, st.GenesisLocked)
		}
		cur, err := e.openRound(st.CurrentEpoch)
		if err != nil {
			return st, cur, err
		}
		if now.Before(cur.LockTime) {
			return st, cur, fmt.Errorf("%w: epoch %d locks at %s",
				domain.ErrTimingViolation, cur.Epoch, cur.LockTime.Format(time.RFC3339))
		}
		return st, cur, nil
	}

	sample, ok, epoch, err := e.sampleFor(ctx, func(now time.Time) (uint64, time.Duration, error) {
		st, cur, err := target(now)
		return cur.Epoch, st.Params.Buffer, err
	})
	if err != nil {
		return fmt.Errorf("engine.GenesisLock: %w", err)
	}

	return e.run(ctx, func() ([]domain.Event, error) {
		now := e.now()
		st, cur, err := target(now)
		if err == nil {
			err = sameEpoch(epoch, cur.Epoch)
		}
		if err != nil {
			return nil, fmt.Errorf("engine.GenesisLock: %w", err)
		}

		events := []domain.Event{
			lockEvent(cur, sample, ok, st, now),
			startEvent(cur.Epoch+1, now, st.Params.Interval, false),
		}
		if err := e.commit(ctx, events...); err != nil {
			return nil, fmt.Errorf("engine.GenesisLock: %w", err)
		}

		logLifecycle(events)
		return events, nil
	})
}

// executePlan is what ExecuteRound acts on: the open round it locks and, when
// present, the locked round it closes.
type executePlan struct {
	st      domain.State
	cur     domain.Round
	prev    domain.Round
	closing bool
}

// executable checks that ExecuteRound may run at now. Caller holds e.mu.
func (e *Engine) executable(now time.Time) (executePlan, error) {
	var p executePlan
	p.st = e.ledger.State()
	if !p.st.GenesisStarted || !p.st.GenesisLocked {
		return p, fmt.Errorf("%w: genesis not complete", domain.ErrInvalidRoundState)
	}
	cur, err := e.openRound(p.st.CurrentEpoch)
	if err != nil {
		return p, err
	}
	p.cur = cur

	if now.Before(cur.LockTime) {
		return p, fmt.Errorf("%w: epoch %d locks at %s",
			domain.ErrTimingViolation, cur.Epoch, cur.LockTime.Format(time.RFC3339))
	}
	if deadline := cur.LockTime.Add(p.st.Params.Buffer); now.After(deadline) {
		return p, fmt.Errorf("%w: epoch %d buffer expired at %s",
			domain.ErrTimingViolation, cur.Epoch, deadline.Format(time.RFC3339))
	}

	prev, hasPrev := e.ledger.Round(cur.Epoch - 1)
	p.prev = prev
	p.closing = hasPrev && prev.Status == domain.RoundLocked
	if p.closing && now.Before(prev.CloseTime) {
		return p, fmt.Errorf("%w: epoch %d closes at %s",
			domain.ErrTimingViolation, prev.Epoch, prev.CloseTime.Format(time.RFC3339))
	}
	return p, nil
}

// ExecuteRound advances the rolling window by one epoch: it closes and settles
// the locked round, locks the open round and opens a new one, all from a single
// oracle sample. It must run within [lockTime, lockTime+buffer] of the open round.
//
// The oracle is read without holding the engine lock; the window is checked
// again once the sample is in, and the step fails if it closed meanwhile or
// another caller already executed the epoch.
func (e *Engine) ExecuteRound(ctx context.Context, caller string) error {
	sample, ok, epoch, err := e.sampleFor(ctx, func(now time.Time) (uint64, time.Duration, error) {
		p, err := e.executable(now)
		return p.cur.Epoch, p.st.Params.Buffer, err
	})
	if err != nil {
		return fmt.Errorf("engine.ExecuteRound: %w", err)
	}

	return e.run(ctx, func() ([]domain.Event, error) {
		now := e.now()
		p, err := e.executable(now)
		if err == nil {
			err = sameEpoch(epoch, p.cur.Epoch)
		}
		if err != nil {
			return nil, fmt.Errorf("engine.ExecuteRound: %w", err)
		}
		st, cur, prev := p.st, p.cur, p.prev

		var events []domain.Event
		if p.closing {
			ended := domain.RoundEnded{
				Meta:          domain.NewMeta(prev.Epoch, now),
				Price:         priceOf(sample, ok),
				OracleRoundID: sample.RoundID,
				Fresh:         fresh(sample, ok, prev.CloseTime, st),
				ClosedAt:      now,
			}
			closed := prev.WithClose(ended.Price, ended.OracleRoundID, ended.Fresh, now)
			settlement, err := domain.Settle(closed, st.Params.TreasuryFeeBps)
			if err != nil {
				return nil, fmt.Errorf("engine.ExecuteRound: settle epoch %d: %w", prev.Epoch, err)
			}
			events = append(events, ended, domain.RoundSettled{
				Meta:            domain.NewMeta(prev.Epoch, now),
				Settlement:      settlement,
				TotalAmount:     closed.TotalAmount.Clone(),
				TreasuryBalance: new(uint256.Int).Add(st.TreasuryBalance, settlement.TreasuryFee),
			})
		}
		events = append(events,
			lockEvent(cur, sample, ok, st, now),
			startEvent(cur.Epoch+1, now, st.Params.Interval, false),
		)

		if err := e.commit(ctx, events...); err != nil {
			return nil, fmt.Errorf("engine.ExecuteRound: %w", err)
		}

		logLifecycle(events)
		return events, nil
	})
}

// RecoverStalled unblocks the lifecycle after the execution window of the open
// round was missed: the open and locked rounds become refundable and genesis
// must run again.
func (e *Engine) RecoverStalled(ctx context.Context, caller string) error {
	return e.run(ctx, func() ([]domain.Event, error) {
		if err := e.authorize(caller, domain.RoleOperator, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("engine.RecoverStalled: %w", err)
		}
		st := e.ledger.State()
		if !st.GenesisStarted || !st.GenesisLocked {
			return nil, fmt.Errorf("engine.RecoverStalled: %w: genesis not complete", domain.ErrInvalidRoundState)
		}
		cur, err := e.openRound(st.CurrentEpoch)
		if err != nil {
			return nil, fmt.Errorf("engine.RecoverStalled: %w", err)
		}

		now := e.now()
		if !now.After(cur.LockTime.Add(st.Params.Buffer)) {
			return nil, fmt.Errorf("engine.RecoverStalled: %w: epoch %d is still executable",
				domain.ErrTimingViolation, cur.Epoch)
		}

		var events []domain.Event
		if prev, ok := e.ledger.Round(cur.Epoch - 1); ok && prev.Status == domain.RoundLocked {
			events = append(events, expiredEvent(prev, st, now))
		}
		events = append(events,
			expiredEvent(cur, st, now),
			domain.GenesisReset{Meta: domain.NewMeta(cur.Epoch, now)},
		)

		if err := e.commit(ctx, events...); err != nil {
			return nil, fmt.Errorf("engine.RecoverStalled: %w", err)
		}

		slog.Warn("lifecycle stalled, rounds refunded and genesis reset", "epoch", cur.Epoch)
		return events, nil
	})
}

func (e *Engine) openRound(epoch uint64) (domain.Round, error) {
	r, ok := e.ledger.Round(epoch)
	if !ok {
		return domain.Round{}, fmt.Errorf("%w: epoch %d", domain.ErrInvalidRoundState, epoch)
	}
	if r.Status != domain.RoundOpen {
		return domain.Round{}, fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidRoundState, epoch, r.Status)
	}
	return r, nil
}

// sampleFor runs check under the engine lock, then reads the oracle with the
// lock released so queries and bets are not held behind a slow feed. check
// returns the epoch the sample is for and how long the read may take.
func (e *Engine) sampleFor(ctx context.Context, check func(now time.Time) (uint64, time.Duration, error)) (domain.PriceSample, bool, uint64, error) {
	var epoch uint64
	var budget time.Duration
	err := e.locked(ctx, func() error {
		var err error
		epoch, budget, err = check(e.now())
		return err
	})
	if err != nil {
		return domain.PriceSample{}, false, 0, err
	}
	s, ok := e.sample(ctx, budget)
	return s, ok, epoch, nil
}

// sample reads the oracle once within timeout. A failure never fails the
// lifecycle step: it is reported as !ok and the rounds it feeds end up refundable.
func (e *Engine) sample(ctx context.Context, timeout time.Duration) (domain.PriceSample, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := e.oracle.LatestPrice(ctx)
	if err != nil {
		slog.Warn("oracle sample failed, affected rounds will be refundable",
			"err", fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err))
		return domain.PriceSample{}, false
	}
	return s, true
}

// sameEpoch fails when the open round moved while the oracle was being read.
func sameEpoch(sampled, open uint64) error {
	if sampled != open {
		return fmt.Errorf("%w: epoch %d was executed while sampling, open is now %d",
			domain.ErrInvalidRoundState, sampled, open)
	}
	return nil
}

func fresh(s domain.PriceSample, ok bool, scheduled time.Time, st domain.State) bool {
	if !ok {
		return false
	}
	if !s.FreshAt(scheduled, st.Params.OracleUpdateAllowance) {
		slog.Warn("stale oracle sample", "updated_at", s.UpdatedAt, "scheduled", scheduled)
		return false
	}
	if !s.Advances(st.LastOracleRoundID) {
		slog.Warn("oracle round did not advance", "oracle_round_id", s.RoundID, "last", st.LastOracleRoundID)
		return false
	}
	return true
}

func priceOf(s domain.PriceSample, ok bool) *int64 {
	if !ok {
		return nil
	}
	return domain.PriceOf(s.Price)
}

func startEvent(epoch uint64, now time.Time, interval time.Duration, genesis bool) domain.RoundStarted {
	r := domain.NewRound(epoch, now, interval)
	return domain.RoundStarted{
		Meta:      domain.NewMeta(epoch, now),
		StartTime: r.StartTime,
		LockTime:  r.LockTime,
		CloseTime: r.CloseTime,
		Genesis:   genesis,
	}
}

func lockEvent(r domain.Round, s domain.PriceSample, ok bool, st domain.State, now time.Time) domain.RoundLockedEvent {
	return domain.RoundLockedEvent{
		Meta:          domain.NewMeta(r.Epoch, now),
		Price:         priceOf(s, ok),
		OracleRoundID: s.RoundID,
		Fresh:         fresh(s, ok, r.LockTime, st),
		LockedAt:      now,
		Interval:      st.Params.Interval,
	}
}

func expiredEvent(r domain.Round, st domain.State, now time.Time) domain.RoundSettled {
	return domain.RoundSettled{
		Meta:            domain.NewMeta(r.Epoch, now),
		Settlement:      domain.Expire(),
		TotalAmount:     r.TotalAmount.Clone(),
		TreasuryBalance: st.TreasuryBalance.Clone(),
	}
}

func logLifecycle(events []domain.Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.RoundStarted:
			slog.Info("round started", "epoch", e.Epoch, "lock_time", e.LockTime)
		case domain.RoundLockedEvent:
			slog.Info("round locked", "epoch", e.Epoch, "price", priceAttr(e.Price), "fresh", e.Fresh)
		case domain.RoundEnded:
			slog.Info("round ended", "epoch", e.Epoch, "price", priceAttr(e.Price), "fresh", e.Fresh)
		case domain.RoundSettled:
			slog.Info("round settled",
				"epoch", e.Epoch,
				"status", e.Settlement.Status,
				"winner", e.Settlement.Winner,
				"reason", e.Settlement.Reason,
				"total_amount", domain.AmountString(e.TotalAmount),
				"reward_amount", domain.AmountString(e.Settlement.RewardAmount),
				"treasury_balance", domain.AmountString(e.TreasuryBalance),
			)
		}
	}
}

// priceAttr logs a price by value; a missing one logs as null.
func priceAttr(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
