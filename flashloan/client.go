package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"go.uber.org/zap"
)

// Client requests flash loans from a single immutable vault
type Client struct {
	vault   Vault
	metrics *metrics.VaultMetrics
	logger  *zap.Logger
}

// NewClient binds a client to vault. metrics may be nil.
func NewClient(vault Vault, m *metrics.VaultMetrics, logger *zap.Logger) (*Client, error) {
	if vault == nil {
		return nil, fmt.Errorf("vault not specified")
	}
	if vault.Address() == (common.Address{}) {
		return nil, fmt.Errorf("vault address not specified")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{vault: vault, metrics: m, logger: logger}, nil
}

// Vault returns the address of the bound vault
func (c *Client) Vault() common.Address {
	return c.vault.Address()
}

// Fee returns the vault's current fee for borrowing amount of token
func (c *Client) Fee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	return c.vault.FlashLoanFee(ctx, token, amount)
}

// RequestLoan borrows amount of token for receiver. Vault failures and
// callback errors are returned unchanged.
func (c *Client) RequestLoan(ctx context.Context, receiver Receiver, token common.Address, amount *big.Int, userData []byte) error {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.ActiveLoans.Inc()
		defer c.metrics.ActiveLoans.Dec()
		defer func() {
			c.metrics.Latency.Observe(time.Since(start).Seconds())
		}()
	}

	c.logger.Debug("Requesting flash loan",
		zap.String("vault", c.vault.Address().Hex()),
		zap.String("receiver", receiver.Address().Hex()),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()))

	if err := c.vault.FlashLoan(ctx, receiver, token, amount, userData); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.WithLabelValues(types.KindOf(err).String()).Inc()
		}
		c.logger.Debug("Flash loan failed", zap.String("token", token.Hex()), zap.Error(err))
		return err
	}

	if c.metrics != nil {
		c.metrics.Loans.Inc()
		volume, _ := new(big.Float).SetInt(amount).Float64()
		c.metrics.Volume.Add(volume)
	}
	return nil
}
