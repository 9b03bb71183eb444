package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is a fungible token handle plus its decimal precision
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// SwapLeg represents one hop of an arbitrage path
type SwapLeg struct {
	Venue        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int // only meaningful for the first leg
	MinAmountOut *big.Int // optional caller floor, nil means derive from quote
}

// Path is an ordered, closed sequence of swap legs
type Path []SwapLeg

// Validate checks that the path is non-empty, contiguous and closed on the
// principal token, and that the first leg spends exactly the principal.
func (p Path) Validate(token common.Address, principal *big.Int) error {
	if len(p) == 0 {
		return NewError(KindInvalidPath, "validate", fmt.Errorf("empty path"))
	}
	if principal == nil || principal.Sign() <= 0 {
		return NewError(KindInvalidPath, "validate", fmt.Errorf("principal must be positive"))
	}
	if p[0].TokenIn != token {
		return NewError(KindInvalidPath, "validate",
			fmt.Errorf("path starts on %s, principal is %s", p[0].TokenIn.Hex(), token.Hex()))
	}
	if last := p[len(p)-1]; last.TokenOut != token {
		return NewError(KindInvalidPath, "validate",
			fmt.Errorf("path not closed: ends on %s", last.TokenOut.Hex()))
	}
	if p[0].AmountIn != nil && p[0].AmountIn.Cmp(principal) != 0 {
		return NewError(KindInvalidPath, "validate",
			fmt.Errorf("first leg input %s != principal %s", p[0].AmountIn, principal))
	}

	for i, leg := range p {
		if leg.Venue == (common.Address{}) {
			return NewError(KindInvalidPath, "validate", fmt.Errorf("leg %d: missing venue", i))
		}
		if leg.TokenIn == leg.TokenOut {
			return NewError(KindInvalidPath, "validate", fmt.Errorf("leg %d: input and output token are equal", i))
		}
		if leg.MinAmountOut != nil && leg.MinAmountOut.Sign() < 0 {
			return NewError(KindInvalidPath, "validate", fmt.Errorf("leg %d: negative minimum output", i))
		}
		if i > 0 && p[i-1].TokenOut != leg.TokenIn {
			return NewError(KindInvalidPath, "validate",
				fmt.Errorf("leg %d: input %s does not follow previous output %s", i, leg.TokenIn.Hex(), p[i-1].TokenOut.Hex()))
		}
	}

	return nil
}

// LoanRequest describes a flash loan and the fee the vault charges for it
type LoanRequest struct {
	Token  common.Address
	Amount *big.Int
	Fee    *big.Int
}

// Repayment returns principal plus fee
func (l LoanRequest) Repayment() *big.Int {
	fee := l.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	return new(big.Int).Add(l.Amount, fee)
}

// TradeSpec is the payload of one executor invocation
type TradeSpec struct {
	Token       common.Address
	Amount      *big.Int
	Path        Path
	MinProfit   *big.Int
	SlippageBps uint32 // zero means use the executor default
}

// ExecutionResult is the outcome of a committed invocation
type ExecutionResult struct {
	Loan      LoanRequest
	Quoted    []*big.Int
	Realized  []*big.Int
	Repayment *big.Int
	Profit    *big.Int
}

// FinalAmount returns the output of the last leg
func (r *ExecutionResult) FinalAmount() *big.Int {
	if len(r.Realized) == 0 {
		return new(big.Int)
	}
	return r.Realized[len(r.Realized)-1]
}
