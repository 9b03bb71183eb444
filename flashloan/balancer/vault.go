package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/ledger"
	"go.uber.org/zap"
)

var (
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")
	ErrRepaymentShortfall    = errors.New("vault: loan not repaid")
	ErrReentrantLoan         = errors.New("vault: reentrant flash loan")
	ErrZeroAmount            = errors.New("vault: zero loan amount")
)

// Vault is a Balancer-style flash loan vault whose holdings live in the ledger
type Vault struct {
	address common.Address
	ledger  *ledger.Ledger
	fee     flashloan.FeePolicy
	logger  *zap.Logger

	lending atomic.Bool
}

var _ flashloan.Vault = (*Vault)(nil)

// NewVault creates a vault at address. A nil fee policy means no fee.
func NewVault(l *ledger.Ledger, address common.Address, fee flashloan.FeePolicy, logger *zap.Logger) (*Vault, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("vault address not specified")
	}
	if fee == nil {
		fee = flashloan.ZeroFee{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{address: address, ledger: l, fee: fee, logger: logger}, nil
}

// Address returns the vault address
func (v *Vault) Address() common.Address {
	return v.address
}

// FeePolicy returns the vault's fee policy
func (v *Vault) FeePolicy() flashloan.FeePolicy {
	return v.fee
}

// Liquidity returns the vault's balance of token
func (v *Vault) Liquidity(token common.Address) *big.Int {
	return v.ledger.BalanceOf(token, v.address)
}

// Deposit moves amount of token from provider into the vault
func (v *Vault) Deposit(ctx context.Context, token, provider common.Address, amount *big.Int) error {
	return v.ledger.Transfer(ctx, token, provider, v.address, amount)
}

// FlashLoanFee returns the fee for borrowing amount
func (v *Vault) FlashLoanFee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	return v.fee.Fee(amount), nil
}

// FlashLoan lends amount of token to recipient for the duration of its
// callback. All ledger effects are reverted if the loan is not repaid.
func (v *Vault) FlashLoan(ctx context.Context, recipient flashloan.Receiver, token common.Address, amount *big.Int, userData []byte) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	return v.ledger.Atomic(ctx, func(ctx context.Context) error {
		if !v.lending.CompareAndSwap(false, true) {
			return ErrReentrantLoan
		}
		defer v.lending.Store(false)

		before := v.ledger.BalanceOf(token, v.address)
		if before.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, before, amount)
		}
		fee := v.fee.Fee(amount)

		if err := v.ledger.Transfer(ctx, token, v.address, recipient.Address(), amount); err != nil {
			return fmt.Errorf("failed to transfer loan: %w", err)
		}

		if err := recipient.ReceiveFlashLoan(ctx, v.address, token, amount, fee, userData); err != nil {
			return err
		}

		after := v.ledger.BalanceOf(token, v.address)
		owed := new(big.Int).Add(before, fee)
		if after.Cmp(owed) < 0 {
			return fmt.Errorf("%w: balance %s, expected at least %s", ErrRepaymentShortfall, after, owed)
		}

		v.logger.Debug("Flash loan repaid",
			zap.String("token", token.Hex()),
			zap.String("amount", amount.String()),
			zap.String("fee", fee.String()),
			zap.String("recipient", recipient.Address().Hex()))
		return nil
	})
}
