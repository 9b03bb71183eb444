package balancer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/flashloan"
)

const (
	// Mainnet addresses
	VaultAddress = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
)

// feeScale is the fixed point scale of getFlashLoanFeePercentage (1e18 = 100%)
var feeScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PackFlashLoan encodes a call to the vault's flashLoan entry point
func PackFlashLoan(recipient common.Address, tokens []common.Address, amounts []*big.Int, userData []byte) ([]byte, error) {
	if len(tokens) != len(amounts) {
		return nil, fmt.Errorf("%d tokens but %d amounts", len(tokens), len(amounts))
	}
	data, err := vaultABI.Pack("flashLoan", recipient, tokens, amounts, userData)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flashLoan: %w", err)
	}
	return data, nil
}

// PackReceiveFlashLoan encodes the callback the vault makes on the recipient
func PackReceiveFlashLoan(tokens []common.Address, amounts, fees []*big.Int, userData []byte) ([]byte, error) {
	data, err := recipientABI.Pack("receiveFlashLoan", tokens, amounts, fees, userData)
	if err != nil {
		return nil, fmt.Errorf("failed to pack receiveFlashLoan: %w", err)
	}
	return data, nil
}

// ReadFeePolicy reads the live flash loan fee from the vault's protocol
// fee collector.
func ReadFeePolicy(ctx context.Context, caller bind.ContractCaller, vault common.Address) (flashloan.FeePolicy, error) {
	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	if err := bind.NewBoundContract(vault, vaultABI, caller, nil, nil).Call(opts, &out, "getProtocolFeesCollector"); err != nil {
		return nil, fmt.Errorf("failed to get fees collector: %w", err)
	}
	collector := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)

	out = nil
	if err := bind.NewBoundContract(collector, collectorABI, caller, nil, nil).Call(opts, &out, "getFlashLoanFeePercentage"); err != nil {
		return nil, fmt.Errorf("failed to get flash loan fee: %w", err)
	}
	pct := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)

	// 1e18 = 10000 bps
	bps := new(big.Int).Div(new(big.Int).Mul(pct, big.NewInt(10000)), feeScale)
	if !bps.IsUint64() || bps.Uint64() > 10000 {
		return nil, fmt.Errorf("flash loan fee %s out of range", pct)
	}
	return flashloan.ProportionalFee{Bps: uint32(bps.Uint64())}, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Vault ABI
var vaultABI = mustParseABI(`[
	{
		"inputs": [
			{"internalType": "contract IFlashLoanRecipient", "name": "recipient", "type": "address"},
			{"internalType": "contract IERC20[]", "name": "tokens", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "bytes", "name": "userData", "type": "bytes"}
		],
		"name": "flashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getProtocolFeesCollector",
		"outputs": [{"internalType": "contract ProtocolFeesCollector", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

var collectorABI = mustParseABI(`[
	{
		"inputs": [],
		"name": "getFlashLoanFeePercentage",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

var recipientABI = mustParseABI(`[
	{
		"inputs": [
			{"internalType": "contract IERC20[]", "name": "tokens", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "uint256[]", "name": "feeAmounts", "type": "uint256[]"},
			{"internalType": "bytes", "name": "userData", "type": "bytes"}
		],
		"name": "receiveFlashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)
