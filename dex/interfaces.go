package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Venue executes single swap legs against a trading venue
type Venue interface {
	// Address returns the venue identifier used in swap legs
	Address() common.Address

	// Name returns a human readable venue name
	Name() string

	// Swap spends amountIn of tokenIn held by trader and credits trader
	// with the realized amount of tokenOut. It fails with SlippageExceeded
	// when the realized amount is below minOut.
	Swap(ctx context.Context, trader, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error)
}

// Quoter is implemented by venues that price swaps themselves
type Quoter interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// ReserveReader is implemented by constant-product venues
type ReserveReader interface {
	// Reserves returns the reserves of tokenIn and tokenOut
	Reserves(ctx context.Context, tokenIn, tokenOut common.Address) (*Reserves, error)

	// FeeBps returns the swap fee in basis points
	FeeBps() uint32
}

// Reserves represents token pair reserves oriented as in/out
type Reserves struct {
	ReserveIn   *big.Int
	ReserveOut  *big.Int
	BlockNumber uint64
}
