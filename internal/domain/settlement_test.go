package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var oneUnit = uint256.MustFromDecimal("1000000000000000000")

func units(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func closedRound(bull, bear *uint256.Int, lock, close int64, oracleCalled bool) domain.Round {
	r := domain.NewRound(1, time.Unix(1_700_000_000, 0), 5*time.Minute)
	r.BullAmount = bull.Clone()
	r.BearAmount = bear.Clone()
	r.TotalAmount = new(uint256.Int).Add(bull, bear)
	r.Status = domain.RoundLocked
	r.LockPrice = domain.PriceOf(lock)
	r.ClosePrice = domain.PriceOf(close)
	r.OracleCalled = oracleCalled
	return r
}

func TestSettle_BullWinsWithFee(t *testing.T) {
	// Escenario A: 1 unidad por lado, fee 300 bps, precio sube.
	r := closedRound(oneUnit, oneUnit, 100, 101, true)

	st, err := domain.Settle(r, 300)
	require.NoError(t, err)

	assert.Equal(t, domain.RoundResolved, st.Status)
	assert.Equal(t, domain.PositionBull, st.Winner)
	assert.Equal(t, "1000000000000000000", st.RewardBaseAmount.Dec())
	assert.Equal(t, "1940000000000000000", st.RewardAmount.Dec())
	assert.Equal(t, "60000000000000000", st.TreasuryFee.Dec())

	payout := domain.Payout(oneUnit, st.RewardAmount, st.RewardBaseAmount)
	assert.Equal(t, "1940000000000000000", payout.Dec())
}

func TestSettle_BearWins(t *testing.T) {
	r := closedRound(units("3"), units("1"), 100, 99, true)

	st, err := domain.Settle(r, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundResolved, st.Status)
	assert.Equal(t, domain.PositionBear, st.Winner)
	assert.Equal(t, "1", st.RewardBaseAmount.Dec())
	// 4 × 0.9 = 3.6 → truncado a 3
	assert.Equal(t, "3", st.RewardAmount.Dec())
	assert.Equal(t, "1", st.TreasuryFee.Dec())
}

func TestSettle_OneSidedIsRefundable(t *testing.T) {
	// Escenario B: solo bear, el precio no importa.
	for _, close := range []int64{50, 100, 150} {
		r := closedRound(domain.Zero(), oneUnit, 100, close, true)
		st, err := domain.Settle(r, 300)
		require.NoError(t, err)
		assert.Equal(t, domain.RoundRefundable, st.Status)
		assert.Equal(t, domain.ReasonOneSided, st.Reason)
		assert.True(t, st.TreasuryFee.IsZero(), "no fee on refundable rounds")
	}
}

func TestSettle_TieIsRefundable(t *testing.T) {
	r := closedRound(oneUnit, oneUnit, 100, 100, true)
	st, err := domain.Settle(r, 300)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundRefundable, st.Status)
	assert.Equal(t, domain.ReasonTie, st.Reason)
}

func TestSettle_StaleOracleIsRefundable(t *testing.T) {
	r := closedRound(oneUnit, oneUnit, 100, 200, false)
	st, err := domain.Settle(r, 300)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundRefundable, st.Status)
	assert.Equal(t, domain.ReasonOracleStale, st.Reason)

	r = closedRound(oneUnit, oneUnit, 100, 200, true)
	r.ClosePrice = nil
	st, err = domain.Settle(r, 300)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonOracleStale, st.Reason)
}

func TestSettle_AlreadySettledIsError(t *testing.T) {
	r := closedRound(oneUnit, oneUnit, 100, 101, true)
	r.Status = domain.RoundResolved
	_, err := domain.Settle(r, 300)
	assert.ErrorIs(t, err, domain.ErrInvalidRoundState)
}

func TestPayout_AggregateNeverExceedsReward(t *testing.T) {
	stakes := []*uint256.Int{units("3"), units("7"), units("11"), units("13")}
	base := domain.Zero()
	for _, s := range stakes {
		base.Add(base, s)
	}
	reward := units("97")

	paid := domain.Zero()
	for _, s := range stakes {
		paid.Add(paid, domain.Payout(s, reward, base))
	}
	assert.False(t, paid.Gt(reward), "paid %s > reward %s", paid.Dec(), reward.Dec())
	// 97×3/34=8, 97×7/34=19, 97×11/34=31, 97×13/34=37 → 95, el resto queda como polvo
	assert.Equal(t, "95", paid.Dec())
}

func TestPayout_ZeroBase(t *testing.T) {
	assert.True(t, domain.Payout(oneUnit, oneUnit, domain.Zero()).IsZero())
}

func TestClaimableAndRefundable(t *testing.T) {
	r := closedRound(oneUnit, oneUnit, 100, 101, true)
	r.Status = domain.RoundResolved

	winner := domain.Bet{Epoch: 1, User: "alice", Position: domain.PositionBull, Amount: oneUnit}
	loser := domain.Bet{Epoch: 1, User: "bob", Position: domain.PositionBear, Amount: oneUnit}

	assert.True(t, domain.Claimable(r, winner))
	assert.False(t, domain.Claimable(r, loser))
	assert.False(t, domain.Refundable(r, winner))

	winner.Claimed = true
	assert.False(t, domain.Claimable(r, winner))

	r.Status = domain.RoundRefundable
	assert.True(t, domain.Refundable(r, loser))
	assert.False(t, domain.Claimable(r, loser))
}

func TestPriceSample_Freshness(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	s := domain.PriceSample{RoundID: 7, Price: 100, UpdatedAt: at.Add(-2 * time.Minute)}

	assert.True(t, s.FreshAt(at, 5*time.Minute))
	assert.False(t, s.FreshAt(at, time.Minute))
	assert.False(t, domain.PriceSample{}.FreshAt(at, time.Hour))

	assert.True(t, s.Advances(6))
	assert.False(t, s.Advances(7))
	assert.True(t, domain.PriceSample{}.Advances(100))
}

func TestParams_Validate(t *testing.T) {
	p := domain.DefaultParams()
	require.NoError(t, p.Validate())

	bad := p.Clone()
	bad.TreasuryFeeBps = domain.MaxTreasuryFeeBps + 1
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidParams)

	bad = p.Clone()
	bad.Buffer = bad.Interval
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidParams)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.KindDuplicateBet, domain.KindOf(domain.ErrDuplicateBet))
	assert.Equal(t, domain.KindConflict, domain.KindOf(fmt.Errorf("commit: %w", domain.ErrStaleLedger)))
	assert.Equal(t, domain.KindInternal, domain.KindOf(assert.AnError))
}

func TestSettlement_JSONKeys(t *testing.T) {
	st, err := domain.Settle(closedRound(oneUnit, oneUnit, 100, 101, true), 300)
	require.NoError(t, err)
	ev := domain.RoundSettled{Meta: domain.NewMeta(1, time.Unix(1_700_000_000, 0)), Settlement: st, TotalAmount: units("2000000000000000000")}

	payload, err := domain.MarshalEvent(ev)
	require.NoError(t, err)
	var env struct {
		Data struct {
			Settlement map[string]any `json:"settlement"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))

	got := env.Data.Settlement
	assert.Equal(t, domain.RoundResolved.String(), got["status"])
	assert.Equal(t, "bull", got["winner"])
	for _, k := range []string{"reward_base_amount", "reward_amount", "treasury_fee"} {
		assert.Contains(t, got, k)
	}
	assert.NotContains(t, got, "Status")
	assert.NotContains(t, got, "reason")

	// Un reembolso no tiene ganador.
	payload, err = json.Marshal(domain.Expire())
	require.NoError(t, err)
	var refund map[string]any
	require.NoError(t, json.Unmarshal(payload, &refund))
	assert.NotContains(t, refund, "winner")
	assert.Equal(t, string(domain.ReasonExpired), refund["reason"])
}
