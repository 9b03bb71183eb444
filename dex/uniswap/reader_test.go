package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockPairState struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
}

// mockCaller answers pair calls with ABI encoded state
type mockCaller struct {
	mu       sync.Mutex
	pairs    map[common.Address]mockPairState
	failures int // fail this many calls before answering
	calls    int
}

func (m *mockCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("connection reset")
	}

	state, ok := m.pairs[*call.To]
	if !ok {
		return nil, fmt.Errorf("no pair at %s", call.To.Hex())
	}
	method, err := pairABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "getReserves":
		return method.Outputs.Pack(state.reserve0, state.reserve1, uint32(1700000000))
	case "token0":
		return method.Outputs.Pack(state.token0)
	case "token1":
		return method.Outputs.Pack(state.token1)
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func testReaderConfig() ReaderConfig {
	cfg := DefaultReaderConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	return cfg
}

func TestPairReader(t *testing.T) {
	ctx := context.Background()
	pairAddr := PairAddress(MainnetFactory, MainnetInitCodeHash, weth, usdc)
	caller := &mockCaller{pairs: map[common.Address]mockPairState{
		pairAddr: {token0: usdc, token1: weth, reserve0: big.NewInt(50_000_000), reserve1: big.NewInt(25_000)},
	}}

	reader, err := NewPairReader(caller, testReaderConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("State", func(t *testing.T) {
		state, err := reader.State(ctx, pairAddr)
		require.NoError(t, err)
		assert.Equal(t, usdc, state.Token0)
		assert.Equal(t, weth, state.Token1)
		assert.Equal(t, "50000000", state.Reserve0.String())
		assert.Equal(t, "25000", state.Reserve1.String())
	})

	t.Run("TokensCached", func(t *testing.T) {
		before := caller.calls
		_, err := reader.State(ctx, pairAddr)
		require.NoError(t, err)
		assert.Equal(t, before+1, caller.calls, "only getReserves should hit the node")
		assert.Same(t, reader.Pair(pairAddr), reader.Pair(pairAddr))
	})

	t.Run("RetriesTransientFailure", func(t *testing.T) {
		caller.mu.Lock()
		caller.failures = 1
		caller.mu.Unlock()

		state, err := reader.State(ctx, pairAddr)
		require.NoError(t, err)
		assert.Equal(t, "25000", state.Reserve1.String())
	})

	t.Run("UnknownPair", func(t *testing.T) {
		cfg := testReaderConfig()
		cfg.MaxRetries = 0
		strict, err := NewPairReader(caller, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = strict.State(ctx, common.HexToAddress("0xdead"))
		require.Error(t, err)
	})
}

func TestLoadStates(t *testing.T) {
	fork := Deployment{
		Factory:      common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac"),
		InitCodeHash: common.FromHex("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303"),
	}
	pairA := Mainnet.PairFor(weth, usdc)
	pairB := fork.PairFor(weth, usdc)
	caller := &mockCaller{pairs: map[common.Address]mockPairState{
		pairA: {token0: usdc, token1: weth, reserve0: big.NewInt(100), reserve1: big.NewInt(1)},
		pairB: {token0: usdc, token1: weth, reserve0: big.NewInt(200), reserve1: big.NewInt(2)},
	}}

	reader, err := NewPairReader(caller, testReaderConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	states, err := LoadStates(context.Background(), reader, []common.Address{pairA, pairB}, 2)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "100", states[pairA].Reserve0.String())
	assert.Equal(t, "200", states[pairB].Reserve0.String())
}

func TestPairAddress(t *testing.T) {
	// WETH/USDC on Uniswap V2 mainnet
	want := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	assert.Equal(t, want, PairAddress(MainnetFactory, MainnetInitCodeHash, weth, usdc))
	assert.Equal(t, want, PairAddress(MainnetFactory, MainnetInitCodeHash, usdc, weth))

	t0, t1 := SortTokens(weth, usdc)
	assert.Equal(t, usdc, t0)
	assert.Equal(t, weth, t1)
}

func TestNewPairReaderValidation(t *testing.T) {
	_, err := NewPairReader(&mockCaller{}, ReaderConfig{}, nil)
	require.Error(t, err)
}
