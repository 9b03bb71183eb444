package uniswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"go.uber.org/zap"
)

// DefaultFeeBps is the Uniswap V2 swap fee (997/1000)
const DefaultFeeBps = 30

const bpsDenominator = 10000

// PoolConfig describes a constant-product pool
type PoolConfig struct {
	Address common.Address
	Name    string
	Token0  common.Address
	Token1  common.Address
	FeeBps  uint32
}

// Pool is a Uniswap V2 style constant-product pool whose reserves are the
// pool account's balances in the ledger.
type Pool struct {
	cfg    PoolConfig
	ledger *ledger.Ledger
	logger *zap.Logger
}

var (
	_ dex.Venue         = (*Pool)(nil)
	_ dex.ReserveReader = (*Pool)(nil)
)

// NewPool creates a pool over the given ledger
func NewPool(l *ledger.Ledger, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("pool address not specified")
	}
	if cfg.Token0 == cfg.Token1 {
		return nil, fmt.Errorf("pool %s: identical tokens", cfg.Address.Hex())
	}
	if cfg.FeeBps >= bpsDenominator {
		return nil, fmt.Errorf("pool %s: fee %d bps out of range", cfg.Address.Hex(), cfg.FeeBps)
	}
	if cfg.Name == "" {
		cfg.Name = "UniswapV2"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{cfg: cfg, ledger: l, logger: logger}, nil
}

// Address returns the pool address
func (p *Pool) Address() common.Address {
	return p.cfg.Address
}

// Name returns the venue name
func (p *Pool) Name() string {
	return p.cfg.Name
}

// FeeBps returns the swap fee in basis points
func (p *Pool) FeeBps() uint32 {
	return p.cfg.FeeBps
}

// Tokens returns the pool's token pair
func (p *Pool) Tokens() (common.Address, common.Address) {
	return p.cfg.Token0, p.cfg.Token1
}

// AddLiquidity moves both tokens from provider into the pool
func (p *Pool) AddLiquidity(ctx context.Context, provider common.Address, amount0, amount1 *big.Int) error {
	return p.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := p.ledger.Transfer(ctx, p.cfg.Token0, provider, p.cfg.Address, amount0); err != nil {
			return fmt.Errorf("failed to add token0 liquidity: %w", err)
		}
		if err := p.ledger.Transfer(ctx, p.cfg.Token1, provider, p.cfg.Address, amount1); err != nil {
			return fmt.Errorf("failed to add token1 liquidity: %w", err)
		}
		return nil
	})
}

// Reserves returns the current reserves oriented as tokenIn/tokenOut
func (p *Pool) Reserves(ctx context.Context, tokenIn, tokenOut common.Address) (*dex.Reserves, error) {
	if err := p.checkPair(tokenIn, tokenOut); err != nil {
		return nil, err
	}
	return &dex.Reserves{
		ReserveIn:  p.ledger.BalanceOf(tokenIn, p.cfg.Address),
		ReserveOut: p.ledger.BalanceOf(tokenOut, p.cfg.Address),
	}, nil
}

// Swap executes a single leg against the pool
func (p *Pool) Swap(ctx context.Context, trader, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	reserves, err := p.Reserves(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%s: insufficient input amount", p.cfg.Name)
	}

	amountOut := GetAmountOut(amountIn, reserves.ReserveIn, reserves.ReserveOut, p.cfg.FeeBps)
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserves.ReserveOut) >= 0 {
		return nil, fmt.Errorf("%s: insufficient liquidity for %s in", p.cfg.Name, amountIn)
	}
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, types.NewError(types.KindSlippageExceeded, p.cfg.Name,
			fmt.Errorf("output %s below minimum %s", amountOut, minOut))
	}

	err = p.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := p.ledger.Transfer(ctx, tokenIn, trader, p.cfg.Address, amountIn); err != nil {
			return fmt.Errorf("%s: failed to pull input: %w", p.cfg.Name, err)
		}
		if err := p.ledger.Transfer(ctx, tokenOut, p.cfg.Address, trader, amountOut); err != nil {
			return fmt.Errorf("%s: failed to push output: %w", p.cfg.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Swap executed",
		zap.String("pool", p.cfg.Address.Hex()),
		zap.String("token_in", tokenIn.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("token_out", tokenOut.Hex()),
		zap.String("amount_out", amountOut.String()))

	return amountOut, nil
}

func (p *Pool) checkPair(tokenIn, tokenOut common.Address) error {
	if (tokenIn == p.cfg.Token0 && tokenOut == p.cfg.Token1) || (tokenIn == p.cfg.Token1 && tokenOut == p.cfg.Token0) {
		return nil
	}
	return types.NewError(types.KindInvalidPath, p.cfg.Name,
		fmt.Errorf("pool %s does not trade %s -> %s", p.cfg.Address.Hex(), tokenIn.Hex(), tokenOut.Hex()))
}

// GetAmountOut calculates the output amount for a given input amount
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenominator-feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator)), amountInWithFee)

	return new(big.Int).Div(numerator, denominator)
}

// GetAmountIn calculates the input amount required for a given output amount
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Cmp(amountOut) <= 0 {
		return big.NewInt(0)
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), big.NewInt(bpsDenominator))
	denominator := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), big.NewInt(int64(bpsDenominator-feeBps)))

	amountIn := new(big.Int).Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}
