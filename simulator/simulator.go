package simulator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/calculation"
	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/events"
	"github.com/michaelpento.lv/flasharb/executor"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/balancer"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Genesis is the account that mints every seeded balance
var Genesis = common.HexToAddress("0x0000000000000000000000000000000000006e6e")

// Options tunes world construction. Zero values are usable.
type Options struct {
	Registerer prometheus.Registerer // nil means a private registry
	Logger     *zap.Logger
	Sinks      []events.Sink
	FeePolicy  flashloan.FeePolicy // overrides the configured vault fee
}

// World is an in-process chain: one ledger, a Balancer-style vault, the
// configured pools and an executor wired to them.
type World struct {
	Config   *config.Config
	Ledger   *ledger.Ledger
	Vault    *balancer.Vault
	Loans    *flashloan.Client
	Venues   *dex.Registry
	Pools    []*uniswap.Pool
	Executor *executor.Executor
	Recorder *events.Recorder

	logger *zap.Logger
}

// Report is the outcome of one simulated trade. Err carries a refused or
// reverted trade; it is not a simulation failure.
type Report struct {
	Trade       types.TradeSpec
	Caller      common.Address
	Plan        *calculation.Plan
	PlanErr     error
	Result      *types.ExecutionResult
	Err         error
	Event       events.Event
	OwnerBefore *big.Int
	OwnerAfter  *big.Int
	Elapsed     time.Duration
}

// OwnerGain returns the owner's balance change in the trade token
func (r *Report) OwnerGain() *big.Int {
	return new(big.Int).Sub(r.OwnerAfter, r.OwnerBefore)
}

// Build seeds a world from the configured reserves
func Build(cfg *config.Config, opts Options) (*World, error) {
	pools := make([]config.Pool, len(cfg.Pools))
	for i := range cfg.Pools {
		p, err := cfg.PoolSettings(i)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		pools[i] = p
	}
	return build(context.Background(), cfg, pools, opts)
}

// Fork seeds a world from live reserves read through reader. Configured
// reserves are ignored; token order is taken from the config.
func Fork(ctx context.Context, cfg *config.Config, reader *uniswap.PairReader, opts Options) (*World, error) {
	pools := make([]config.Pool, len(cfg.Pools))
	addrs := make([]common.Address, len(cfg.Pools))
	for i := range cfg.Pools {
		p, err := cfg.PoolSettings(i)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		pools[i] = p
		addrs[i] = p.Address
	}

	states, err := uniswap.LoadStates(ctx, reader, addrs, cfg.Network.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to load pair reserves: %w", err)
	}

	for i := range pools {
		p := &pools[i]
		state := states[p.Address]
		switch {
		case state.Token0 == p.Token0 && state.Token1 == p.Token1:
			p.Reserve0, p.Reserve1 = state.Reserve0, state.Reserve1
		case state.Token0 == p.Token1 && state.Token1 == p.Token0:
			p.Reserve0, p.Reserve1 = state.Reserve1, state.Reserve0
		default:
			return nil, fmt.Errorf("pool %s trades %s/%s on chain, config says %s/%s",
				p.Name, state.Token0.Hex(), state.Token1.Hex(), p.Token0.Hex(), p.Token1.Hex())
		}
	}

	return build(ctx, cfg, pools, opts)
}

func build(ctx context.Context, cfg *config.Config, pools []config.Pool, opts Options) (*World, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	settings, err := cfg.ExecutorSettings()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	fee := opts.FeePolicy
	if fee == nil {
		if fee, err = cfg.FeePolicy(); err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
	}
	liquidity, err := cfg.VaultLiquidity()
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	l := ledger.New(logger.Named("ledger"))
	for _, a := range cfg.Assets {
		asset, err := cfg.Asset(a.Symbol)
		if err != nil {
			return nil, err
		}
		l.RegisterAsset(asset)
	}

	vault, err := balancer.NewVault(l, settings.Vault, fee, logger.Named("vault"))
	if err != nil {
		return nil, err
	}
	for token, amount := range liquidity {
		if err := l.Mint(ctx, token, Genesis, amount); err != nil {
			return nil, err
		}
		if err := vault.Deposit(ctx, token, Genesis, amount); err != nil {
			return nil, fmt.Errorf("failed to seed vault: %w", err)
		}
	}

	venues := dex.NewRegistry()
	built := make([]*uniswap.Pool, 0, len(pools))
	for _, p := range pools {
		pool, err := uniswap.NewPool(l, p.PoolConfig, logger.Named("pool"))
		if err != nil {
			return nil, err
		}
		if err := l.Mint(ctx, p.Token0, Genesis, p.Reserve0); err != nil {
			return nil, err
		}
		if err := l.Mint(ctx, p.Token1, Genesis, p.Reserve1); err != nil {
			return nil, err
		}
		if err := pool.AddLiquidity(ctx, Genesis, p.Reserve0, p.Reserve1); err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Name, err)
		}
		if err := venues.Register(pool); err != nil {
			return nil, err
		}
		built = append(built, pool)
	}

	loans, err := flashloan.NewClient(vault, metrics.NewVaultMetrics(reg, metrics.DefaultNamespace), logger.Named("flashloan"))
	if err != nil {
		return nil, err
	}

	recorder := &events.Recorder{}
	sinks := events.Multi{
		recorder,
		events.NewLogSink(logger.Named("events")),
		events.NewMetricsSink(metrics.NewExecutorMetrics(reg, metrics.DefaultNamespace)),
	}
	sinks = append(sinks, opts.Sinks...)

	exec, err := executor.New(settings, l, loans, venues, sinks, logger.Named("executor"))
	if err != nil {
		return nil, err
	}

	logger.Info("World built",
		zap.Int("assets", len(cfg.Assets)),
		zap.Int("pools", len(built)),
		zap.Stringer("fee_policy", fee),
		zap.String("vault", settings.Vault.Hex()),
		zap.String("executor", settings.Self.Hex()))

	return &World{
		Config:   cfg,
		Ledger:   l,
		Vault:    vault,
		Loans:    loans,
		Venues:   venues,
		Pools:    built,
		Executor: exec,
		Recorder: recorder,
		logger:   logger,
	}, nil
}

// Preview projects the configured trade without moving any balance
func (w *World) Preview(ctx context.Context) (*calculation.Plan, error) {
	spec, err := w.Config.TradeSpec()
	if err != nil {
		return nil, err
	}
	return w.Plan(ctx, spec)
}

// Plan projects spec against current reserves using the vault's current fee
func (w *World) Plan(ctx context.Context, spec types.TradeSpec) (*calculation.Plan, error) {
	if err := spec.Path.Validate(spec.Token, spec.Amount); err != nil {
		return nil, err
	}
	fee, err := w.Loans.Fee(ctx, spec.Token, spec.Amount)
	if err != nil {
		return nil, types.Classify("fee", err)
	}

	tolerance := spec.SlippageBps
	if tolerance == 0 {
		tolerance = w.Executor.Config().SlippageBps
	}
	loan := types.LoanRequest{Token: spec.Token, Amount: spec.Amount, Fee: fee}
	return w.Executor.Engine().PlanPath(ctx, spec.Path, loan, tolerance)
}

// Simulate previews and then executes the configured trade
func (w *World) Simulate(ctx context.Context) (*Report, error) {
	spec, err := w.Config.TradeSpec()
	if err != nil {
		return nil, err
	}
	caller, err := w.Config.Caller()
	if err != nil {
		return nil, fmt.Errorf("caller: %w", err)
	}
	return w.Run(ctx, caller, spec), nil
}

// Run executes spec as caller and reports the outcome
func (w *World) Run(ctx context.Context, caller common.Address, spec types.TradeSpec) *Report {
	owner := w.Executor.Config().Owner
	report := &Report{
		Trade:       spec,
		Caller:      caller,
		OwnerBefore: w.Ledger.BalanceOf(spec.Token, owner),
	}
	report.Plan, report.PlanErr = w.Plan(ctx, spec)

	start := time.Now()
	report.Result, report.Err = w.Executor.Execute(ctx, caller, spec)
	report.Elapsed = time.Since(start)
	report.OwnerAfter = w.Ledger.BalanceOf(spec.Token, owner)
	report.Event, _ = w.Recorder.Last()

	if report.Err != nil {
		w.logger.Warn("Simulated trade reverted",
			zap.Stringer("kind", types.KindOf(report.Err)),
			zap.Error(report.Err))
	} else {
		w.logger.Info("Simulated trade settled",
			zap.String("profit", w.Ledger.Format(spec.Token, report.Result.Profit)),
			zap.Duration("elapsed", report.Elapsed))
	}
	return report
}
