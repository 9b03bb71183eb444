package simulator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/events"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleConfig(t *testing.T) *config.Config {
	t.Setenv(config.EnvRPCURL, "")
	t.Setenv(config.EnvOwner, "")
	t.Setenv(config.EnvVault, "")
	cfg, err := config.LoadConfig(testutils.WriteConfig(t, testutils.SampleConfig))
	require.NoError(t, err)
	return cfg
}

func bigString(t *testing.T, s string) *big.Int {
	x, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return x
}

func poolReserves(w *World) []string {
	var out []string
	for _, p := range w.Pools {
		t0, t1 := p.Tokens()
		out = append(out,
			w.Ledger.BalanceOf(t0, p.Address()).String(),
			w.Ledger.BalanceOf(t1, p.Address()).String())
	}
	return out
}

func TestSimulateSampleTrade(t *testing.T) {
	reg := prometheus.NewRegistry()
	var seen []events.Event
	w, err := Build(sampleConfig(t), Options{
		Registerer: reg,
		Logger:     zaptest.NewLogger(t),
		Sinks:      []events.Sink{events.SinkFunc(func(e events.Event) { seen = append(seen, e) })},
	})
	require.NoError(t, err)

	liquidity := w.Vault.Liquidity(testutils.WETH)
	report, err := w.Simulate(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err)
	require.NoError(t, report.PlanErr)

	profit := bigString(t, testutils.SampleProfit)
	assert.Equal(t, testutils.OwnerAddress, report.Caller)
	assert.Equal(t, 0, profit.Cmp(report.Result.Profit), "profit %s", report.Result.Profit)
	assert.Equal(t, 0, profit.Cmp(report.OwnerGain()))
	assert.Equal(t, 0, profit.Cmp(report.Plan.ExpectedProfit), "pre-flight matches execution")
	for i, q := range report.Plan.Quotes {
		assert.Equal(t, q.String(), report.Result.Realized[i].String(), "leg %d", i)
	}
	assert.Equal(t, "20730318722", report.Result.Realized[0].String())
	assert.Equal(t, liquidity, w.Vault.Liquidity(testutils.WETH), "zero fee leaves the vault flat")
	assert.Zero(t, w.Ledger.BalanceOf(testutils.WETH, testutils.ExecutorAddress).Sign())
	assert.Zero(t, w.Ledger.BalanceOf(testutils.USDC, testutils.ExecutorAddress).Sign())

	assert.Equal(t, events.Completed, report.Event.Type)
	require.Len(t, seen, 1)
	assert.Equal(t, report.Event.InvocationID, seen[0].InvocationID)

	expected := `
# HELP flasharb_executor_attempts_total Total number of arbitrage invocations
# TYPE flasharb_executor_attempts_total counter
flasharb_executor_attempts_total 1
# HELP flasharb_executor_successes_total Total number of committed arbitrage invocations
# TYPE flasharb_executor_successes_total counter
flasharb_executor_successes_total 1
# HELP flasharb_flashloan_loans_total Total number of repaid flash loans
# TYPE flasharb_flashloan_loans_total counter
flasharb_flashloan_loans_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"flasharb_executor_attempts_total", "flasharb_executor_successes_total", "flasharb_flashloan_loans_total"))

	t.Run("SpreadClosed", func(t *testing.T) {
		again, err := w.Simulate(context.Background())
		require.NoError(t, err)
		require.ErrorIs(t, again.Err, types.ErrUnprofitableTrade)
		assert.Equal(t, "-173314395253283734", again.Plan.ExpectedProfit.String())
		assert.Zero(t, again.OwnerGain().Sign())
	})
}

func TestSimulateUnprofitableTradeReverts(t *testing.T) {
	cfg := sampleConfig(t)
	cfg.Trade.MinProfit = "1"
	w, err := Build(cfg, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	before := poolReserves(w)
	report, err := w.Simulate(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, report.Err, types.ErrUnprofitableTrade)
	assert.Nil(t, report.Result)
	assert.Zero(t, report.OwnerGain().Sign())
	assert.Equal(t, before, poolReserves(w))
	assert.Equal(t, events.Aborted, report.Event.Type)
	assert.Equal(t, types.KindUnprofitableTrade, report.Event.Kind)

	// pre-flight still projects the trade
	require.NoError(t, report.PlanErr)
	assert.Equal(t, testutils.SampleProfit, report.Plan.ExpectedProfit.String())
}

func TestSimulateFlatFeeOverride(t *testing.T) {
	w, err := Build(sampleConfig(t), Options{
		Logger:    zaptest.NewLogger(t),
		FeePolicy: flashloan.FlatFee{Amount: big.NewInt(1e17)},
	})
	require.NoError(t, err)

	liquidity := w.Vault.Liquidity(testutils.WETH)
	report, err := w.Simulate(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err)

	want := new(big.Int).Sub(bigString(t, testutils.SampleProfit), big.NewInt(1e17))
	assert.Equal(t, want.String(), report.Result.Profit.String())
	assert.Equal(t, new(big.Int).Add(liquidity, big.NewInt(1e17)), w.Vault.Liquidity(testutils.WETH))
}

func TestPreviewMovesNothing(t *testing.T) {
	w, err := Build(sampleConfig(t), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	before := poolReserves(w)
	plan, err := w.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutils.SampleProfit, plan.ExpectedProfit.String())
	assert.Equal(t, "20626667128", plan.MinOuts[0].String(), "50 bps below the quote")
	assert.Equal(t, before, poolReserves(w))
	assert.Empty(t, w.Recorder.Events())

	t.Run("InvalidPath", func(t *testing.T) {
		spec, err := w.Config.TradeSpec()
		require.NoError(t, err)
		spec.Path = spec.Path[:1]
		_, err = w.Plan(context.Background(), spec)
		require.ErrorIs(t, err, types.ErrInvalidPath)
	})
}

func TestBuildErrors(t *testing.T) {
	t.Run("NoOwner", func(t *testing.T) {
		cfg := sampleConfig(t)
		cfg.Executor.Owner = ""
		_, err := Build(cfg, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner")
	})

	t.Run("BadPool", func(t *testing.T) {
		cfg := sampleConfig(t)
		cfg.Pools[1].Token1 = "USDC"
		_, err := Build(cfg, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool 1")
	})

	t.Run("SharedRegistry", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := Build(sampleConfig(t), Options{Registerer: reg})
		require.NoError(t, err)
		assert.Panics(t, func() { _, _ = Build(sampleConfig(t), Options{Registerer: reg}) })
	})
}

var testPairABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type chainPair struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
}

// chainCaller answers pair calls like a node would
type chainCaller struct {
	mu    sync.Mutex
	pairs map[common.Address]chainPair
}

func (c *chainCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (c *chainCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, ok := c.pairs[*call.To]
	if !ok {
		return nil, fmt.Errorf("no pair at %s", call.To.Hex())
	}
	method, err := testPairABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getReserves":
		return method.Outputs.Pack(pair.reserve0, pair.reserve1, uint32(1700000000))
	case "token0":
		return method.Outputs.Pack(pair.token0)
	case "token1":
		return method.Outputs.Pack(pair.token1)
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func sampleChain(t *testing.T) *chainCaller {
	return &chainCaller{pairs: map[common.Address]chainPair{
		testutils.UniswapPair: {
			token0: testutils.USDC, token1: testutils.WETH,
			reserve0: bigString(t, "2100000000000"), reserve1: bigString(t, "1000000000000000000000"),
		},
		testutils.SushiswapPair: {
			token0: testutils.USDC, token1: testutils.WETH,
			reserve0: bigString(t, "2000000000000"), reserve1: bigString(t, "1000000000000000000000"),
		},
	}}
}

func TestFork(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	cfg := sampleConfig(t)
	// stale local reserves are replaced by chain state
	for i := range cfg.Pools {
		cfg.Pools[i].Reserve0, cfg.Pools[i].Reserve1 = "1", "1"
	}
	// token order in the config does not have to match the pair's
	cfg.Pools[1].Token0, cfg.Pools[1].Token1 = "WETH", "USDC"

	reader, err := uniswap.NewPairReader(sampleChain(t), cfg.ReaderConfig(), logger)
	require.NoError(t, err)

	w, err := Fork(ctx, cfg, reader, Options{Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, "1000000000000000000000", w.Ledger.BalanceOf(testutils.WETH, testutils.SushiswapPair).String())
	assert.Equal(t, "2000000000000", w.Ledger.BalanceOf(testutils.USDC, testutils.SushiswapPair).String())

	plan, err := w.Preview(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutils.SampleProfit, plan.ExpectedProfit.String())

	t.Run("TokenMismatch", func(t *testing.T) {
		chain := sampleChain(t)
		p := chain.pairs[testutils.UniswapPair]
		p.token0 = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
		chain.pairs[testutils.UniswapPair] = p

		reader, err := uniswap.NewPairReader(chain, cfg.ReaderConfig(), logger)
		require.NoError(t, err)
		_, err = Fork(ctx, cfg, reader, Options{Logger: logger})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "on chain")
	})

	t.Run("UnknownPair", func(t *testing.T) {
		chain := sampleChain(t)
		delete(chain.pairs, testutils.SushiswapPair)

		rc := cfg.ReaderConfig()
		rc.MaxRetries = 0
		reader, err := uniswap.NewPairReader(chain, rc, logger)
		require.NoError(t, err)
		_, err = Fork(ctx, cfg, reader, Options{Logger: logger})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load pair reserves")
	})
}
