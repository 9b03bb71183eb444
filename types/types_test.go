package types

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000B")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000000C")
	pool1  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	pool2  = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func TestPathValidate(t *testing.T) {
	principal := big.NewInt(1000)

	tests := []struct {
		name    string
		path    Path
		wantErr bool
	}{
		{
			name: "closed two leg path",
			path: Path{
				{Venue: pool1, TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1000)},
				{Venue: pool2, TokenIn: tokenB, TokenOut: tokenA},
			},
		},
		{
			name:    "empty",
			path:    Path{},
			wantErr: true,
		},
		{
			name: "not closed",
			path: Path{
				{Venue: pool1, TokenIn: tokenA, TokenOut: tokenB},
				{Venue: pool2, TokenIn: tokenB, TokenOut: tokenC},
			},
			wantErr: true,
		},
		{
			name: "broken chain",
			path: Path{
				{Venue: pool1, TokenIn: tokenA, TokenOut: tokenB},
				{Venue: pool2, TokenIn: tokenC, TokenOut: tokenA},
			},
			wantErr: true,
		},
		{
			name: "first amount differs from principal",
			path: Path{
				{Venue: pool1, TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(999)},
				{Venue: pool2, TokenIn: tokenB, TokenOut: tokenA},
			},
			wantErr: true,
		},
		{
			name: "starts on another token",
			path: Path{
				{Venue: pool1, TokenIn: tokenB, TokenOut: tokenA},
				{Venue: pool2, TokenIn: tokenA, TokenOut: tokenB},
			},
			wantErr: true,
		},
		{
			name: "missing venue",
			path: Path{
				{TokenIn: tokenA, TokenOut: tokenB},
				{Venue: pool2, TokenIn: tokenB, TokenOut: tokenA},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.path.Validate(tokenA, principal)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPath)
			assert.Equal(t, KindInvalidPath, KindOf(err))
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("leg 1: %w", NewError(KindSlippageExceeded, "swap", errors.New("got 10, want 11")))

	assert.ErrorIs(t, err, ErrSlippageExceeded)
	assert.NotErrorIs(t, err, ErrUnprofitableTrade)
	assert.Equal(t, KindSlippageExceeded, KindOf(err))
	assert.Equal(t, "SlippageExceeded", KindOf(err).String())
	assert.Contains(t, err.Error(), "swap: SlippageExceeded: got 10, want 11")

	plain := errors.New("rpc down")
	assert.Equal(t, KindExternalFailure, KindOf(plain))
	assert.Equal(t, KindUnknown, KindOf(nil))

	classified := Classify("vault", plain)
	assert.ErrorIs(t, classified, ErrExternalFailure)
	assert.ErrorIs(t, classified, plain)
	assert.Equal(t, err, Classify("vault", err))
}

func TestLoanRepayment(t *testing.T) {
	loan := LoanRequest{Token: tokenA, Amount: big.NewInt(1000), Fee: big.NewInt(1)}
	assert.Equal(t, "1001", loan.Repayment().String())

	loan.Fee = nil
	assert.Equal(t, "1000", loan.Repayment().String())
}
