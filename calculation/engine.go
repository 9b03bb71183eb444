package calculation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/types"
	"go.uber.org/zap"
)

// MaxToleranceBps is 100%
const MaxToleranceBps = 10000

var bpsDenominator = uint256.NewInt(10000)

// Engine projects swap outputs from venue state without mutating it
type Engine struct {
	venues *dex.Registry
	logger *zap.Logger
}

// Plan is the pre-flight projection of a path
type Plan struct {
	Quotes         []*big.Int
	MinOuts        []*big.Int
	ExpectedFinal  *big.Int
	ExpectedProfit *big.Int
}

// NewEngine creates a calculation engine over the given venues
func NewEngine(venues *dex.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{venues: venues, logger: logger}
}

// QuoteLeg returns the expected output of swapping amountIn on venue
func (e *Engine) QuoteLeg(ctx context.Context, venue, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	v, ok := e.venues.Get(venue)
	if !ok {
		return nil, types.NewError(types.KindInvalidPath, "quote", fmt.Errorf("unknown venue %s", venue.Hex()))
	}

	if q, ok := v.(dex.Quoter); ok {
		out, err := q.Quote(ctx, tokenIn, tokenOut, amountIn)
		if err != nil {
			return nil, types.Classify("quote", fmt.Errorf("%s: %w", v.Name(), err))
		}
		return out, nil
	}

	rr, ok := v.(dex.ReserveReader)
	if !ok {
		return nil, types.NewError(types.KindInvalidPath, "quote", fmt.Errorf("venue %s cannot be priced", v.Name()))
	}
	reserves, err := rr.Reserves(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, types.Classify("quote", fmt.Errorf("%s: %w", v.Name(), err))
	}

	return ConstantProductOut(amountIn, reserves.ReserveIn, reserves.ReserveOut, rr.FeeBps())
}

// MinAcceptableOutput lowers expected by the slippage tolerance, rounding down
func (e *Engine) MinAcceptableOutput(expected *big.Int, toleranceBps uint32) (*big.Int, error) {
	return MinAcceptableOutput(expected, toleranceBps)
}

// EvaluatePath chains quotes from the loan principal and returns
// final output minus principal and fee. The result may be negative.
func (e *Engine) EvaluatePath(ctx context.Context, path types.Path, loan types.LoanRequest) (*big.Int, error) {
	quotes, err := e.quotePath(ctx, path, loan.Amount)
	if err != nil {
		return nil, err
	}
	return NetProfit(quotes[len(quotes)-1], loan), nil
}

// PlanPath quotes every leg and derives the per-leg minimum outputs. A
// caller supplied leg minimum is kept when it is stricter than the quote.
// ExpectedProfit is the EvaluatePath result for the same chain.
func (e *Engine) PlanPath(ctx context.Context, path types.Path, loan types.LoanRequest, toleranceBps uint32) (*Plan, error) {
	if toleranceBps > MaxToleranceBps {
		return nil, types.NewError(types.KindInvalidTolerance, "plan", fmt.Errorf("%d bps", toleranceBps))
	}

	quotes, err := e.quotePath(ctx, path, loan.Amount)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Quotes:  quotes,
		MinOuts: make([]*big.Int, len(path)),
	}
	for i, leg := range path {
		minOut, err := MinAcceptableOutput(quotes[i], toleranceBps)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		if leg.MinAmountOut != nil && leg.MinAmountOut.Cmp(minOut) > 0 {
			minOut = new(big.Int).Set(leg.MinAmountOut)
		}
		plan.MinOuts[i] = minOut
	}

	plan.ExpectedFinal = quotes[len(quotes)-1]
	plan.ExpectedProfit = NetProfit(plan.ExpectedFinal, loan)

	e.logger.Debug("Planned path",
		zap.Int("legs", len(path)),
		zap.String("expected_final", plan.ExpectedFinal.String()),
		zap.String("expected_profit", plan.ExpectedProfit.String()))

	return plan, nil
}

// quotePath feeds each leg's quote into the next, starting from amount
func (e *Engine) quotePath(ctx context.Context, path types.Path, amount *big.Int) ([]*big.Int, error) {
	if len(path) == 0 {
		return nil, types.NewError(types.KindInvalidPath, "quote", fmt.Errorf("empty path"))
	}
	quotes := make([]*big.Int, len(path))
	for i, leg := range path {
		out, err := e.QuoteLeg(ctx, leg.Venue, leg.TokenIn, leg.TokenOut, amount)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		quotes[i] = out
		amount = out
	}
	return quotes, nil
}

// NetProfit returns final minus principal and fee
func NetProfit(final *big.Int, loan types.LoanRequest) *big.Int {
	return new(big.Int).Sub(final, loan.Repayment())
}

// MinAcceptableOutput returns expected * (10000 - toleranceBps) / 10000
func MinAcceptableOutput(expected *big.Int, toleranceBps uint32) (*big.Int, error) {
	if toleranceBps > MaxToleranceBps {
		return nil, types.NewError(types.KindInvalidTolerance, "min output",
			fmt.Errorf("%d bps outside [0, %d]", toleranceBps, MaxToleranceBps))
	}

	x, err := toUint256(expected)
	if err != nil {
		return nil, err
	}

	keep := uint256.NewInt(uint64(MaxToleranceBps - toleranceBps))
	product, overflow := new(uint256.Int).MulOverflow(x, keep)
	if overflow {
		return nil, overflowError("min output", "expected * tolerance")
	}
	return product.Div(product, bpsDenominator).ToBig(), nil
}

// ConstantProductOut is the V2 pricing formula in 256-bit arithmetic:
// in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
func ConstantProductOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if feeBps >= MaxToleranceBps {
		return nil, types.NewError(types.KindInvalidPath, "quote", fmt.Errorf("fee %d bps", feeBps))
	}

	in, err := toUint256(amountIn)
	if err != nil {
		return nil, err
	}
	rIn, err := toUint256(reserveIn)
	if err != nil {
		return nil, err
	}
	rOut, err := toUint256(reserveOut)
	if err != nil {
		return nil, err
	}
	if in.IsZero() || rIn.IsZero() || rOut.IsZero() {
		return new(big.Int), nil
	}

	inWithFee, overflow := new(uint256.Int).MulOverflow(in, uint256.NewInt(uint64(MaxToleranceBps-feeBps)))
	if overflow {
		return nil, overflowError("quote", "amount in with fee")
	}
	numerator, overflow := new(uint256.Int).MulOverflow(inWithFee, rOut)
	if overflow {
		return nil, overflowError("quote", "numerator")
	}
	scaled, overflow := new(uint256.Int).MulOverflow(rIn, bpsDenominator)
	if overflow {
		return nil, overflowError("quote", "reserve in")
	}
	denominator, overflow := new(uint256.Int).AddOverflow(scaled, inWithFee)
	if overflow {
		return nil, overflowError("quote", "denominator")
	}

	return numerator.Div(numerator, denominator).ToBig(), nil
}

func toUint256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, types.NewError(types.KindArithmeticOverflow, "convert", fmt.Errorf("nil amount"))
	}
	if x.Sign() < 0 {
		return nil, types.NewError(types.KindArithmeticOverflow, "convert", fmt.Errorf("negative amount %s", x))
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, types.NewError(types.KindArithmeticOverflow, "convert", fmt.Errorf("%s exceeds 256 bits", x))
	}
	return v, nil
}

func overflowError(op, what string) error {
	return types.NewError(types.KindArithmeticOverflow, op, fmt.Errorf("%s overflows 256 bits", what))
}
