package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polypredict/internal/adapters/notify"
	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Unix(1_700_000_000, 0).UTC()
	oneUnit = uint256.MustFromDecimal("1000000000000000000")
)

func resolvedRound() domain.Round {
	r := domain.NewRound(3, t0, 5*time.Minute)
	r.TotalAmount = uint256.MustFromDecimal("2000000000000000000")
	r.BullAmount = oneUnit.Clone()
	r.BearAmount = oneUnit.Clone()
	r.LockPrice = domain.PriceOf(234567000000)
	r.ClosePrice = domain.PriceOf(234600000000)
	r.Status = domain.RoundResolved
	return r
}

func TestConsole_Publish_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, notify.DefaultConsoleConfig())

	err := c.Publish(context.Background(), []domain.Event{
		domain.RoundLockedEvent{Meta: domain.NewMeta(3, t0), Price: domain.PriceOf(234567000000), Fresh: true},
		domain.RoundEnded{Meta: domain.NewMeta(2, t0), Fresh: false},
		domain.RoundSettled{
			Meta: domain.NewMeta(2, t0),
			Settlement: domain.Settlement{
				Status:       domain.RoundResolved,
				Winner:       domain.PositionBull,
				RewardAmount: uint256.MustFromDecimal("1940000000000000000"),
				TreasuryFee:  uint256.MustFromDecimal("60000000000000000"),
			},
			TotalAmount: uint256.MustFromDecimal("2000000000000000000"),
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "#3 LOCKED price:2345.67")
	assert.Contains(t, out, "ENDED price:n/a (stale)")
	assert.Contains(t, out, "RESOLVED BULL wins")
	assert.Contains(t, out, "reward:1.9400")
	assert.Contains(t, out, "fee:0.0600")
}

func TestConsole_Publish_QuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, notify.DefaultConsoleConfig())

	bet := domain.BetPlaced{Meta: domain.NewMeta(1, t0), User: "alice", Position: domain.PositionBull, Amount: oneUnit}
	require.NoError(t, c.Publish(context.Background(), []domain.Event{bet}))
	assert.Empty(t, buf.String())

	cfg := notify.DefaultConsoleConfig()
	cfg.Verbose = true
	c = notify.NewConsoleWriter(&buf, cfg)
	require.NoError(t, c.Publish(context.Background(), []domain.Event{bet}))
	assert.Contains(t, buf.String(), "BET alice bull 1.0000")
}

func TestConsole_PrintStatus(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, notify.DefaultConsoleConfig())

	st := domain.State{
		CurrentEpoch:    4,
		GenesisStarted:  true,
		GenesisLocked:   true,
		TreasuryBalance: uint256.MustFromDecimal("60000000000000000"),
		Admin:           "admin",
		Operator:        "keeper",
		Params:          domain.DefaultParams(),
	}
	refund := domain.NewRound(2, t0, 5*time.Minute)
	refund.Status = domain.RoundRefundable
	refund.RefundReason = domain.ReasonOneSided

	c.PrintStatus(st, []domain.Round{resolvedRound(), refund}, t0)

	out := buf.String()
	assert.Contains(t, out, "epoch 4 (running)")
	assert.Contains(t, out, "treasury:0.0600")
	assert.Contains(t, out, "BULL")
	assert.Contains(t, out, "refund(one_sided)")
	assert.Contains(t, out, "2346")
}

func TestConsole_PrintStatus_NoRounds(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, notify.DefaultConsoleConfig())

	c.PrintStatus(domain.State{Params: domain.DefaultParams()}, nil, t0)
	assert.Contains(t, buf.String(), "waiting genesis")
	assert.Contains(t, buf.String(), "no rounds yet")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.9400", notify.FormatAmount(uint256.MustFromDecimal("1940000000000000000"), 18))
	assert.Equal(t, "0.0000", notify.FormatAmount(nil, 18))
	assert.Equal(t, "12.5000", notify.FormatAmount(uint256.NewInt(125), 1))
}
