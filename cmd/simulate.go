package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the configured trade against the configured reserves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		world, err := simulator.Build(cfg, simulator.Options{
			Registerer: registerer(),
			Logger:     utils.GetLogger(),
		})
		if err != nil {
			return fmt.Errorf("failed to build simulation: %w", err)
		}

		report, err := world.Simulate(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), world, report)

		if report.Err != nil {
			return fmt.Errorf("trade reverted (%s): %w", types.KindOf(report.Err), report.Err)
		}
		return nil
	},
}
