package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault lends tokens for the duration of a single callback
type Vault interface {
	// Address identifies the vault; callbacks carry it as the caller
	Address() common.Address

	// FlashLoanFee returns the fee charged for borrowing amount of token
	FlashLoanFee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)

	// FlashLoan transfers amount to recipient, invokes its callback and
	// fails unless amount plus fee is back in the vault afterwards.
	FlashLoan(ctx context.Context, recipient Receiver, token common.Address, amount *big.Int, userData []byte) error
}

// Receiver is the flash loan recipient
type Receiver interface {
	Address() common.Address
	ReceiveFlashLoan(ctx context.Context, caller, token common.Address, amount, fee *big.Int, userData []byte) error
}
