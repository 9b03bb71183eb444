package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/balancer"
	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	liveFee bool
	execute bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Pre-flight the configured trade against live reserves",
	Long: `quote reads the configured pairs from the node at network.rpc_endpoint,
seeds a local fork with their reserves and projects the trade. With --execute
the trade is also run on the fork; nothing is sent to the chain.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Network.Timeout)
		defer cancel()

		client, err := ethclient.DialContext(ctx, cfg.Network.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to Ethereum node: %w", err)
		}
		defer client.Close()

		chainID, err := client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		if cfg.Network.ChainID != 0 && chainID.Uint64() != cfg.Network.ChainID {
			return fmt.Errorf("node is on chain %s, config expects %d", chainID, cfg.Network.ChainID)
		}

		var fee flashloan.FeePolicy
		if liveFee {
			vault, err := cfg.Address(cfg.Vault.Address)
			if err != nil {
				return err
			}
			if fee, err = balancer.ReadFeePolicy(ctx, client, vault); err != nil {
				return err
			}
			log.Info("Read vault fee", zap.String("vault", vault.Hex()), zap.Stringer("fee", fee))
		}

		reader, err := uniswap.NewPairReader(client, cfg.ReaderConfig(), log.Named("reader"))
		if err != nil {
			return err
		}
		world, err := simulator.Fork(ctx, cfg, reader, simulator.Options{
			Registerer: registerer(),
			Logger:     log,
			FeePolicy:  fee,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !execute {
			spec, err := cfg.TradeSpec()
			if err != nil {
				return err
			}
			plan, err := world.Plan(ctx, spec)
			if err != nil {
				return fmt.Errorf("pre-flight failed (%s): %w", types.KindOf(err), err)
			}
			printPlan(out, world, spec, plan)
			return nil
		}

		caller, err := cfg.Caller()
		if err != nil {
			return err
		}
		spec, err := cfg.TradeSpec()
		if err != nil {
			return err
		}
		report := world.Run(ctx, caller, spec)
		printReport(out, world, report)
		if report.Err != nil {
			return fmt.Errorf("trade reverted on fork (%s): %w", types.KindOf(report.Err), report.Err)
		}
		return nil
	},
}

func init() {
	quoteCmd.Flags().BoolVar(&liveFee, "live-fee", false, "read the flash loan fee from the vault's fee collector")
	quoteCmd.Flags().BoolVar(&execute, "execute", false, "also run the trade on the forked state")
}

