package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/types"
)

var (
	abiAddress, _   = abi.NewType("address", "", nil)
	abiAddresses, _ = abi.NewType("address[]", "", nil)
	abiUint256, _   = abi.NewType("uint256", "", nil)
	abiUint256s, _  = abi.NewType("uint256[]", "", nil)
	abiUint32, _    = abi.NewType("uint32", "", nil)
)

// tradeArgs is the userData layout carried through the vault
var tradeArgs = abi.Arguments{
	{Name: "token", Type: abiAddress},
	{Name: "amount", Type: abiUint256},
	{Name: "minProfit", Type: abiUint256},
	{Name: "slippageBps", Type: abiUint32},
	{Name: "venues", Type: abiAddresses},
	{Name: "tokensIn", Type: abiAddresses},
	{Name: "tokensOut", Type: abiAddresses},
	{Name: "minAmountsOut", Type: abiUint256s},
}

// EncodeTrade ABI-encodes a trade as flash loan userData
func EncodeTrade(spec types.TradeSpec) ([]byte, error) {
	n := len(spec.Path)
	venues := make([]common.Address, n)
	tokensIn := make([]common.Address, n)
	tokensOut := make([]common.Address, n)
	minOuts := make([]*big.Int, n)
	for i, leg := range spec.Path {
		venues[i] = leg.Venue
		tokensIn[i] = leg.TokenIn
		tokensOut[i] = leg.TokenOut
		minOuts[i] = orZero(leg.MinAmountOut)
	}

	packed, err := tradeArgs.Pack(spec.Token, orZero(spec.Amount), orZero(spec.MinProfit), spec.SlippageBps,
		venues, tokensIn, tokensOut, minOuts)
	if err != nil {
		return nil, fmt.Errorf("failed to pack trade: %w", err)
	}
	return packed, nil
}

// DecodeTrade reverses EncodeTrade
func DecodeTrade(data []byte) (types.TradeSpec, error) {
	values, err := tradeArgs.Unpack(data)
	if err != nil {
		return types.TradeSpec{}, fmt.Errorf("failed to unpack trade: %w", err)
	}

	venues := values[4].([]common.Address)
	tokensIn := values[5].([]common.Address)
	tokensOut := values[6].([]common.Address)
	minOuts := values[7].([]*big.Int)
	if len(tokensIn) != len(venues) || len(tokensOut) != len(venues) || len(minOuts) != len(venues) {
		return types.TradeSpec{}, fmt.Errorf("malformed trade: %d venues, %d inputs, %d outputs, %d minimums",
			len(venues), len(tokensIn), len(tokensOut), len(minOuts))
	}

	spec := types.TradeSpec{
		Token:       values[0].(common.Address),
		Amount:      values[1].(*big.Int),
		MinProfit:   values[2].(*big.Int),
		SlippageBps: values[3].(uint32),
		Path:        make(types.Path, len(venues)),
	}
	for i := range venues {
		spec.Path[i] = types.SwapLeg{
			Venue:        venues[i],
			TokenIn:      tokensIn[i],
			TokenOut:     tokensOut[i],
			MinAmountOut: minOuts[i],
		}
	}
	return spec, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
