package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Chainlink AggregatorV3Interface, only the calls the feed reader needs.
var aggregatorABI abi.ABI

func init() {
	var err error
	aggregatorABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "latestRoundData",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "roundId", "type": "uint80"},
				{"name": "answer", "type": "int256"},
				{"name": "startedAt", "type": "uint256"},
				{"name": "updatedAt", "type": "uint256"},
				{"name": "answeredInRound", "type": "uint80"}
			]
		},
		{
			"name": "decimals",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		}
	]`))
	if err != nil {
		panic("aggregator abi parse: " + err.Error())
	}
}

// ContractCaller is the subset of ethclient.Client the feed reader uses.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed implements ports.PriceOracle on top of a Chainlink aggregator.
type ChainlinkFeed struct {
	client ContractCaller
	feed   common.Address
	close  func()
}

// DialChainlink connects to rpcURL and reads the aggregator at feedAddress.
func DialChainlink(ctx context.Context, rpcURL, feedAddress string) (*ChainlinkFeed, error) {
	if !common.IsHexAddress(feedAddress) {
		return nil, fmt.Errorf("oracle.DialChainlink: invalid feed address %q", feedAddress)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("oracle.DialChainlink: dial rpc %s: %w", rpcURL, err)
	}
	f := NewChainlinkFeed(client, common.HexToAddress(feedAddress))
	f.close = client.Close
	return f, nil
}

// NewChainlinkFeed wraps an existing contract caller.
func NewChainlinkFeed(client ContractCaller, feed common.Address) *ChainlinkFeed {
	return &ChainlinkFeed{client: client, feed: feed}
}

// LatestPrice calls latestRoundData on the aggregator.
func (c *ChainlinkFeed) LatestPrice(ctx context.Context) (domain.PriceSample, error) {
	vals, err := c.call(ctx, "latestRoundData")
	if err != nil {
		return domain.PriceSample{}, err
	}
	if len(vals) != 5 {
		return domain.PriceSample{}, fmt.Errorf("oracle.ChainlinkFeed: latestRoundData returned %d values", len(vals))
	}

	roundID, _ := vals[0].(*big.Int)
	answer, _ := vals[1].(*big.Int)
	updatedAt, _ := vals[3].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil {
		return domain.PriceSample{}, fmt.Errorf("oracle.ChainlinkFeed: unexpected latestRoundData types")
	}
	if !answer.IsInt64() {
		return domain.PriceSample{}, fmt.Errorf("oracle.ChainlinkFeed: answer %s overflows int64", answer)
	}
	if !updatedAt.IsInt64() || updatedAt.Sign() == 0 {
		return domain.PriceSample{}, fmt.Errorf("oracle.ChainlinkFeed: round %s not updated", roundID)
	}

	return domain.PriceSample{
		RoundID:   packRoundID(roundID),
		Price:     answer.Int64(),
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		Source:    "chainlink:" + c.feed.Hex(),
	}, nil
}

// Decimals returns how many decimals the aggregator answers carry.
func (c *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	vals, err := c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("oracle.ChainlinkFeed: decimals returned %d values", len(vals))
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("oracle.ChainlinkFeed: unexpected decimals type %T", vals[0])
	}
	return d, nil
}

// Close releases the RPC connection when the feed owns it.
func (c *ChainlinkFeed) Close() {
	if c.close != nil {
		c.close()
	}
}

func (c *ChainlinkFeed) call(ctx context.Context, method string) ([]any, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle.ChainlinkFeed: pack %s: %w", method, err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle.ChainlinkFeed: call %s: %w", method, err)
	}
	vals, err := aggregatorABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("oracle.ChainlinkFeed: unpack %s: %w", method, err)
	}
	return vals, nil
}

// packRoundID folds the 80-bit proxy round id into 64 bits. The phase id sits
// in the top 16 bits so ids stay increasing across aggregator upgrades.
func packRoundID(id *big.Int) uint64 {
	phase := new(big.Int).Rsh(id, 64).Uint64() & 0xFFFF
	round := new(big.Int).And(id, new(big.Int).SetUint64(1<<48-1)).Uint64()
	return phase<<48 | round
}
