package flashloan

import (
	"fmt"
	"math/big"
	"strings"
)

// FeePolicy computes the flash loan fee for a principal
type FeePolicy interface {
	Fee(amount *big.Int) *big.Int
	String() string
}

// ZeroFee charges nothing
type ZeroFee struct{}

func (ZeroFee) Fee(*big.Int) *big.Int { return new(big.Int) }
func (ZeroFee) String() string        { return "zero" }

// FlatFee charges a fixed amount regardless of principal
type FlatFee struct {
	Amount *big.Int
}

func (f FlatFee) Fee(*big.Int) *big.Int {
	if f.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.Amount)
}

func (f FlatFee) String() string { return fmt.Sprintf("flat(%s)", f.Amount) }

// ProportionalFee charges Bps basis points of the principal, rounded up
// the way the Balancer fee collector does.
type ProportionalFee struct {
	Bps uint32
}

func (f ProportionalFee) Fee(amount *big.Int) *big.Int {
	if amount == nil || f.Bps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(f.Bps)))
	fee.Add(fee, big.NewInt(9999))
	return fee.Div(fee, big.NewInt(10000))
}

func (f ProportionalFee) String() string { return fmt.Sprintf("proportional(%dbps)", f.Bps) }

// ParseFeePolicy builds a policy from its config representation
func ParseFeePolicy(kind string, amount *big.Int, bps uint32) (FeePolicy, error) {
	switch strings.ToLower(kind) {
	case "", "proportional":
		if bps > 10000 {
			return nil, fmt.Errorf("fee %d bps out of range", bps)
		}
		return ProportionalFee{Bps: bps}, nil
	case "flat":
		if amount == nil || amount.Sign() < 0 {
			return nil, fmt.Errorf("flat fee requires a non-negative amount")
		}
		return FlatFee{Amount: amount}, nil
	case "zero", "none":
		return ZeroFee{}, nil
	}
	return nil, fmt.Errorf("unknown fee policy %q", kind)
}
