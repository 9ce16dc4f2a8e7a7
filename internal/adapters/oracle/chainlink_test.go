package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCaller struct {
	out  []byte
	err  error
	msgs []ethereum.CallMsg
}

func (m *mockCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.msgs = append(m.msgs, msg)
	return m.out, m.err
}

var feedAddr = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")

func packRound(t *testing.T, roundID *big.Int, answer int64, updatedAt int64) []byte {
	t.Helper()
	return packRoundAt(t, roundID, answer, updatedAt-5, updatedAt)
}

// packRoundAt codifica latestRoundData con startedAt explícito; ambos son uint256.
func packRoundAt(t *testing.T, roundID *big.Int, answer int64, startedAt, updatedAt int64) []byte {
	t.Helper()
	out, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		roundID,
		big.NewInt(answer),
		big.NewInt(startedAt),
		big.NewInt(updatedAt),
		roundID,
	)
	require.NoError(t, err)
	return out
}

func TestChainlinkFeed_LatestPrice(t *testing.T) {
	caller := &mockCaller{out: packRound(t, big.NewInt(42), 2_345_67000000, 1_700_000_000)}
	feed := NewChainlinkFeed(caller, feedAddr)

	s, err := feed.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), s.RoundID)
	assert.Equal(t, int64(2_345_67000000), s.Price)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), s.UpdatedAt)
	assert.Contains(t, s.Source, "chainlink:")

	require.Len(t, caller.msgs, 1)
	assert.Equal(t, feedAddr, *caller.msgs[0].To)
	assert.Equal(t, aggregatorABI.Methods["latestRoundData"].ID, caller.msgs[0].Data[:4])
}

func TestChainlinkFeed_NegativeAnswer(t *testing.T) {
	caller := &mockCaller{out: packRound(t, big.NewInt(7), -15, 1_700_000_000)}
	s, err := NewChainlinkFeed(caller, feedAddr).LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-15), s.Price)
}

func TestChainlinkFeed_NotUpdated(t *testing.T) {
	// Ronda aún no escrita por el agregador: startedAt y updatedAt a cero.
	caller := &mockCaller{out: packRoundAt(t, big.NewInt(7), 100, 0, 0)}
	_, err := NewChainlinkFeed(caller, feedAddr).LatestPrice(context.Background())
	assert.ErrorContains(t, err, "round 7 not updated")
}

func TestChainlinkFeed_CallError(t *testing.T) {
	caller := &mockCaller{err: errors.New("rpc timeout")}
	_, err := NewChainlinkFeed(caller, feedAddr).LatestPrice(context.Background())
	assert.ErrorContains(t, err, "rpc timeout")
}

func TestChainlinkFeed_Decimals(t *testing.T) {
	out, err := aggregatorABI.Methods["decimals"].Outputs.Pack(uint8(8))
	require.NoError(t, err)

	d, err := NewChainlinkFeed(&mockCaller{out: out}, feedAddr).Decimals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(8), d)
}

func TestPackRoundID_MonotonicAcrossPhases(t *testing.T) {
	phase1 := new(big.Int).Lsh(big.NewInt(1), 64)
	phase1.Add(phase1, big.NewInt(900))
	phase2 := new(big.Int).Lsh(big.NewInt(2), 64)
	phase2.Add(phase2, big.NewInt(1))

	a, b := packRoundID(phase1), packRoundID(phase2)
	assert.Less(t, a, b)
	assert.Equal(t, uint64(1)<<48|900, a)
}

func TestDialChainlink_InvalidAddress(t *testing.T) {
	_, err := DialChainlink(context.Background(), "http://127.0.0.1:1", "not-an-address")
	assert.Error(t, err)
}
