package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Mainnet deployment constants
var (
	MainnetFactory      = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	MainnetInitCodeHash = common.FromHex("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

// Deployment identifies a V2 factory and the init code hash of its pairs
type Deployment struct {
	Name         string
	Factory      common.Address
	InitCodeHash []byte
}

// Mainnet is the canonical Uniswap V2 deployment
var Mainnet = Deployment{Name: "UniswapV2", Factory: MainnetFactory, InitCodeHash: MainnetInitCodeHash}

// PairFor returns the deployment's pair address for two tokens
func (d Deployment) PairFor(a, b common.Address) common.Address {
	return PairAddress(d.Factory, d.InitCodeHash, a, b)
}

// ReaderConfig tunes on-chain reserve reads
type ReaderConfig struct {
	CacheSize         int
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint
	MaxElapsed        time.Duration
}

// DefaultReaderConfig returns conservative public-RPC settings
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		CacheSize:         256,
		RequestsPerSecond: 10,
		Burst:             20,
		MaxRetries:        3,
		MaxElapsed:        10 * time.Second,
	}
}

// PairState is a point-in-time view of a deployed pair
type PairState struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// PairReader reads Uniswap V2 pair state over RPC
type PairReader struct {
	caller  bind.ContractCaller
	cfg     ReaderConfig
	pairs   *lru.Cache
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	tokens map[common.Address][2]common.Address // token0/token1 never change
}

// NewPairReader creates a reader over the given contract caller (usually an ethclient.Client)
func NewPairReader(caller bind.ContractCaller, cfg ReaderConfig, logger *zap.Logger) (*PairReader, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultReaderConfig().CacheSize
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}

	return &PairReader{
		caller:  caller,
		cfg:     cfg,
		pairs:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
		tokens:  make(map[common.Address][2]common.Address),
	}, nil
}

// Pair returns a cached binding for the pair at addr
func (r *PairReader) Pair(addr common.Address) *Pair {
	if cached, ok := r.pairs.Get(addr); ok {
		return cached.(*Pair)
	}
	pair := NewPair(addr, r.caller)
	r.pairs.Add(addr, pair)
	return pair
}

// State reads tokens and reserves of the pair at addr
func (r *PairReader) State(ctx context.Context, addr common.Address) (*PairState, error) {
	pair := r.Pair(addr)

	token0, token1, err := r.pairTokens(ctx, pair)
	if err != nil {
		return nil, err
	}

	reserves, err := retry(ctx, r, func() ([2]*big.Int, error) {
		r0, r1, err := pair.GetReserves(ctx)
		return [2]*big.Int{r0, r1}, err
	})
	if err != nil {
		return nil, fmt.Errorf("pair %s: %w", addr.Hex(), err)
	}

	r.logger.Debug("Read pair reserves",
		zap.String("pair", addr.Hex()),
		zap.String("reserve0", reserves[0].String()),
		zap.String("reserve1", reserves[1].String()))

	return &PairState{
		Address:  addr,
		Token0:   token0,
		Token1:   token1,
		Reserve0: reserves[0],
		Reserve1: reserves[1],
	}, nil
}

func (r *PairReader) pairTokens(ctx context.Context, pair *Pair) (common.Address, common.Address, error) {
	r.mu.Lock()
	cached, ok := r.tokens[pair.Address()]
	r.mu.Unlock()
	if ok {
		return cached[0], cached[1], nil
	}

	tokens, err := retry(ctx, r, func() ([2]common.Address, error) {
		t0, err := pair.Token0(ctx)
		if err != nil {
			return [2]common.Address{}, err
		}
		t1, err := pair.Token1(ctx)
		return [2]common.Address{t0, t1}, err
	})
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("pair %s: %w", pair.Address().Hex(), err)
	}

	r.mu.Lock()
	r.tokens[pair.Address()] = tokens
	r.mu.Unlock()
	return tokens[0], tokens[1], nil
}

// retry runs op under the reader's rate limit with exponential backoff
func retry[T any](ctx context.Context, r *PairReader, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return op()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.cfg.MaxRetries+1),
		backoff.WithMaxElapsedTime(r.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("Retrying pair read", zap.Error(err), zap.Duration("next", next))
		}),
	)
}

// LoadStates reads many pairs concurrently
func LoadStates(ctx context.Context, r *PairReader, addrs []common.Address, concurrency int) (map[common.Address]*PairState, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	states := make(map[common.Address]*PairState, len(addrs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, addr := range addrs {
		g.Go(func() error {
			state, err := r.State(ctx, addr)
			if err != nil {
				return err
			}
			mu.Lock()
			states[addr] = state
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// SortTokens orders a token pair the way V2 factories do
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PairAddress derives the CREATE2 address of the pair for two tokens
func PairAddress(factory common.Address, initCodeHash []byte, a, b common.Address) common.Address {
	token0, token1 := SortTokens(a, b)
	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{0xff}, factory.Bytes(), salt, initCodeHash)[12:])
}
