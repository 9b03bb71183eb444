package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/utils"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/michaelpento.lv/flasharb/utils/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	envFile     string
	logFile     string
	metricsAddr string
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "Flash loan arbitrage executor",
	Long: `flasharb borrows from a Balancer-style vault, runs a closed swap path
across constant-product pools and repays the loan in one atomic step,
forwarding any surplus to the owner. Trades are simulated in process, either
against configured reserves or against reserves forked from a live node.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flasharb.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with FLASHARB_* overrides (default is ./.env)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs, e.g. :9090")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(simulateCmd, quoteCmd, calldataCmd)
}

func initConfig() {
	utils.InitLogger(debug, logFile)
}

func setup(cmd *cobra.Command, args []string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := config.LoadEnv(files...); err != nil {
		return err
	}

	if metricsAddr != "" {
		serveMetrics(cmd.Context(), metricsAddr)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}

// registerer is the process registry when metrics are served, otherwise a
// throwaway one
func registerer() prometheus.Registerer {
	if metricsAddr != "" {
		return metrics.Registry()
	}
	return prometheus.NewRegistry()
}

func serveMetrics(ctx context.Context, addr string) {
	log := utils.GetLogger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	mon := monitor.NewSystemMonitor(ctx, metrics.Registry(), 5*time.Second, log.Named("monitor"))

	go func() {
		log.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		mon.Cleanup()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
