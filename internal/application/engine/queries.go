package engine

import (
	"fmt"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// UserRound pairs a bet with the round it was placed on.
type UserRound struct {
	Bet   domain.Bet   `json:"bet"`
	Round domain.Round `json:"round"`
}

func (e *Engine) CurrentEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.State().CurrentEpoch
}

func (e *Engine) State() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.State()
}

func (e *Engine) Params() domain.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.State().Params
}

func (e *Engine) GetRound(epoch uint64) (domain.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.ledger.Round(epoch)
	if !ok {
		return domain.Round{}, fmt.Errorf("engine.GetRound: %w: epoch %d", domain.ErrRoundNotFound, epoch)
	}
	return r, nil
}

// RecentRounds returns up to n rounds, newest first.
func (e *Engine) RecentRounds(n int) []domain.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.RecentRounds(n)
}

func (e *Engine) IsClaimable(epoch uint64, user string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, okRound := e.ledger.Round(epoch)
	b, okBet := e.ledger.Bet(epoch, user)
	return okRound && okBet && domain.Claimable(r, b)
}

func (e *Engine) IsRefundable(epoch uint64, user string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, okRound := e.ledger.Round(epoch)
	b, okBet := e.ledger.Bet(epoch, user)
	return okRound && okBet && domain.Refundable(r, b)
}

// UserEpochs returns every epoch user bet on, oldest first.
func (e *Engine) UserEpochs(user string) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.UserEpochs(user)
}

// UserRounds pages through the rounds user bet on. It returns the page and
// the cursor for the next one.
func (e *Engine) UserRounds(user string, cursor, size int) ([]UserRound, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	epochs := e.ledger.UserEpochs(user)
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(epochs) || size <= 0 {
		return nil, cursor
	}
	end := min(cursor+size, len(epochs))

	out := make([]UserRound, 0, end-cursor)
	for _, epoch := range epochs[cursor:end] {
		b, _ := e.ledger.Bet(epoch, user)
		r, _ := e.ledger.Round(epoch)
		out = append(out, UserRound{Bet: b, Round: r})
	}
	return out, end
}

// PendingClaims returns the epochs user can currently collect, either as
// winner or as refund.
func (e *Engine) PendingClaims(user string) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []uint64
	for _, epoch := range e.ledger.UserEpochs(user) {
		r, _ := e.ledger.Round(epoch)
		b, _ := e.ledger.Bet(epoch, user)
		if domain.Claimable(r, b) || domain.Refundable(r, b) {
			out = append(out, epoch)
		}
	}
	return out
}

// CheckInvariants verifies the accounting invariants of every round.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.CheckInvariants(); err != nil {
		return fmt.Errorf("engine.CheckInvariants: %w", err)
	}
	return nil
}
