package domain_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func startEvent(epoch uint64, at time.Time) domain.RoundStarted {
	r := domain.NewRound(epoch, at, 5*time.Minute)
	return domain.RoundStarted{
		Meta:      domain.NewMeta(epoch, at),
		StartTime: r.StartTime,
		LockTime:  r.LockTime,
		CloseTime: r.CloseTime,
	}
}

func betEvent(epoch uint64, user string, pos domain.Position, amount *uint256.Int) domain.BetPlaced {
	return domain.BetPlaced{
		Meta:     domain.NewMeta(epoch, t0),
		User:     user,
		Position: pos,
		Amount:   amount,
		PlacedAt: t0,
	}
}

func newLedger() *domain.Ledger {
	return domain.NewLedger(domain.State{Admin: "admin", Operator: "op", Params: domain.DefaultParams()})
}

func TestLedger_ApplyLifecycle(t *testing.T) {
	l := newLedger()

	require.NoError(t, l.Apply(startEvent(1, t0)))
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))
	require.NoError(t, l.Apply(betEvent(1, "bob", domain.PositionBear, oneUnit)))

	r, ok := l.Round(1)
	require.True(t, ok)
	assert.Equal(t, domain.RoundOpen, r.Status)
	assert.Equal(t, "2000000000000000000", r.TotalAmount.Dec())
	assert.True(t, r.PoolBalanced())

	lockedAt := t0.Add(5 * time.Minute)
	require.NoError(t, l.Apply(domain.RoundLockedEvent{
		Meta: domain.NewMeta(1, lockedAt), Price: domain.PriceOf(100), OracleRoundID: 3,
		Fresh: true, LockedAt: lockedAt, Interval: 5 * time.Minute,
	}))
	require.NoError(t, l.Apply(domain.RoundEnded{
		Meta: domain.NewMeta(1, lockedAt), Price: domain.PriceOf(120), OracleRoundID: 4,
		Fresh: true, ClosedAt: lockedAt.Add(5 * time.Minute),
	}))

	r, _ = l.Round(1)
	st, err := domain.Settle(r, 300)
	require.NoError(t, err)
	require.NoError(t, l.Apply(domain.RoundSettled{Meta: domain.NewMeta(1, t0), Settlement: st}))

	r, _ = l.Round(1)
	assert.Equal(t, domain.RoundResolved, r.Status)
	assert.Equal(t, lockedAt.Add(5*time.Minute), r.CloseTime)
	state := l.State()
	assert.Equal(t, "60000000000000000", state.TreasuryBalance.Dec())
	assert.Equal(t, uint64(4), state.LastOracleRoundID)
	assert.True(t, state.GenesisLocked)
	assert.Equal(t, []uint64{1}, l.UserEpochs("alice"))
	require.NoError(t, l.CheckInvariants())
}

func TestLedger_RejectsDuplicateBetAndOutOfSequenceRound(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Apply(startEvent(1, t0)))
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))

	err := l.Apply(betEvent(1, "alice", domain.PositionBear, oneUnit))
	assert.ErrorIs(t, err, domain.ErrDuplicateBet)

	err = l.Apply(startEvent(3, t0))
	assert.ErrorIs(t, err, domain.ErrInvalidRoundState)
}

func TestLedger_RollbackRestoresEverything(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Apply(startEvent(1, t0)))
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))
	before := l.Snapshot()

	j := l.Begin()
	require.NoError(t, l.Apply(betEvent(1, "bob", domain.PositionBear, oneUnit)))
	require.NoError(t, l.Apply(domain.BettingPaused{Meta: domain.NewMeta(1, t0)}))
	require.NoError(t, l.Apply(startEvent(2, t0)))

	cs := j.Changeset(nil)
	assert.Len(t, cs.Rounds, 2)
	assert.Len(t, cs.Bets, 1)
	assert.True(t, cs.State.Paused)

	j.Rollback()

	after := l.Snapshot()
	assert.Equal(t, before.State.Paused, after.State.Paused)
	assert.Equal(t, before.State.CurrentEpoch, after.State.CurrentEpoch)
	assert.Len(t, after.Rounds, 1)
	assert.Len(t, after.Bets, 1)
	assert.Equal(t, before.Rounds[0].TotalAmount.Dec(), after.Rounds[0].TotalAmount.Dec())
	assert.Empty(t, l.UserEpochs("bob"))
	_, ok := l.Bet(1, "bob")
	assert.False(t, ok)
}

func TestLedger_VersionCountsCommits(t *testing.T) {
	l := newLedger()
	assert.Equal(t, uint64(0), l.Version())

	j := l.Begin()
	require.NoError(t, l.Apply(startEvent(1, t0)))
	assert.Equal(t, uint64(0), j.Changeset(nil).BaseVersion)
	j.Commit()
	assert.Equal(t, uint64(1), l.Version())

	// Un rollback no consume versión.
	j = l.Begin()
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))
	assert.Equal(t, uint64(1), j.Changeset(nil).BaseVersion)
	j.Rollback()
	assert.Equal(t, uint64(1), l.Version())

	reloaded, err := domain.NewLedgerFromSnapshot(l.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reloaded.Version())
}

func TestLedger_ClaimOnlyOnce(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Apply(startEvent(1, t0)))
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))
	require.NoError(t, l.Apply(domain.RoundSettled{Meta: domain.NewMeta(1, t0), Settlement: domain.Expire()}))

	claim := domain.RewardClaimed{Meta: domain.NewMeta(1, t0), User: "alice", Amount: oneUnit, Refund: true}
	require.NoError(t, l.Apply(claim))
	assert.ErrorIs(t, l.Apply(claim), domain.ErrNothingToClaim)

	require.NoError(t, l.Apply(domain.TransferReverted{Meta: domain.NewMeta(0, t0), User: "alice", Epochs: []uint64{1}}))
	b, _ := l.Bet(1, "alice")
	assert.False(t, b.Claimed)
}

func TestLedger_FromSnapshot(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Apply(startEvent(1, t0)))
	require.NoError(t, l.Apply(betEvent(1, "alice", domain.PositionBull, oneUnit)))
	require.NoError(t, l.Apply(startEvent(2, t0)))
	require.NoError(t, l.Apply(betEvent(2, "alice", domain.PositionBear, oneUnit)))

	restored, err := domain.NewLedgerFromSnapshot(l.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, restored.UserEpochs("alice"))
	assert.Equal(t, uint64(2), restored.State().CurrentEpoch)
	assert.Equal(t, 2, restored.RoundCount())

	bad := l.Snapshot()
	bad.Rounds = bad.Rounds[1:]
	_, err = domain.NewLedgerFromSnapshot(bad)
	assert.Error(t, err)
}

func TestMarshalEvent(t *testing.T) {
	ev := betEvent(1, "alice", domain.PositionBull, oneUnit)
	b, err := domain.MarshalEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"bet_placed"`)
	assert.Contains(t, string(b), `"position":"bull"`)
}
