package cmd

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/michaelpento.lv/flasharb/events"
	"github.com/michaelpento.lv/flasharb/executor"
	"github.com/michaelpento.lv/flasharb/flashloan/balancer"
	"github.com/spf13/cobra"
)

var calldataCmd = &cobra.Command{
	Use:   "calldata",
	Short: "Print vault flashLoan calldata carrying the configured trade",
	Long: `calldata encodes the configured trade as flash loan userData and wraps it
in a call to the vault's flashLoan(recipient, tokens, amounts, userData),
with the configured executor as recipient.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		settings, err := cfg.ExecutorSettings()
		if err != nil {
			return err
		}
		spec, err := cfg.TradeSpec()
		if err != nil {
			return err
		}
		if err := spec.Path.Validate(spec.Token, spec.Amount); err != nil {
			return err
		}

		userData, err := executor.EncodeTrade(spec)
		if err != nil {
			return err
		}
		data, err := balancer.PackFlashLoan(settings.Self,
			[]common.Address{spec.Token}, []*big.Int{spec.Amount}, userData)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "to:          %s\n", settings.Vault.Hex())
		fmt.Fprintf(out, "recipient:   %s\n", settings.Self.Hex())
		fmt.Fprintf(out, "fingerprint: %016x\n", events.Fingerprint(userData))
		fmt.Fprintf(out, "data:        %s\n", hexutil.Encode(data))
		return nil
	},
}
