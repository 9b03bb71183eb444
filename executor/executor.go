package executor

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/flasharb/calculation"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/events"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"go.uber.org/zap"
)

// DefaultSlippageBps is used when neither the trade nor the config sets a tolerance
const DefaultSlippageBps = 50

// Config is fixed at construction
type Config struct {
	Vault       common.Address // the only accepted callback caller
	Owner       common.Address // receives every surplus
	Self        common.Address // the executor's own ledger account
	Policy      Policy
	SlippageBps uint32
}

// Executor borrows from the vault, runs a swap path and settles the loan,
// all inside one ledger transaction. A call made while an invocation is open
// is refused with ReentrancyDetected, so concurrent callers must serialize
// their calls themselves.
type Executor struct {
	cfg    Config
	ledger *ledger.Ledger
	loans  *flashloan.Client
	venues *dex.Registry
	engine *calculation.Engine
	sink   events.Sink
	logger *zap.Logger

	state   atomic.Int32
	tripped atomic.Bool // set when re-entry was refused during the current invocation

	mu      sync.Mutex
	pending *pendingLoan
}

type pendingLoan struct {
	spec     types.TradeSpec
	userData []byte
	result   *types.ExecutionResult
}

var _ flashloan.Receiver = (*Executor)(nil)

// New creates an executor. sink and logger may be nil.
func New(cfg Config, l *ledger.Ledger, loans *flashloan.Client, venues *dex.Registry, sink events.Sink, logger *zap.Logger) (*Executor, error) {
	if cfg.Vault == (common.Address{}) {
		return nil, fmt.Errorf("vault address not specified")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("owner address not specified")
	}
	if cfg.Self == (common.Address{}) {
		return nil, fmt.Errorf("executor address not specified")
	}
	if l == nil || loans == nil || venues == nil {
		return nil, fmt.Errorf("ledger, vault client and venue registry are required")
	}
	if loans.Vault() != cfg.Vault {
		return nil, fmt.Errorf("vault client bound to %s, config names %s", loans.Vault().Hex(), cfg.Vault.Hex())
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.SlippageBps > calculation.MaxToleranceBps {
		return nil, types.NewError(types.KindInvalidTolerance, "new", fmt.Errorf("%d bps", cfg.SlippageBps))
	}
	if sink == nil {
		sink = events.Multi{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		cfg:    cfg,
		ledger: l,
		loans:  loans,
		venues: venues,
		engine: calculation.NewEngine(venues, logger),
		sink:   sink,
		logger: logger,
	}, nil
}

// Address returns the executor's ledger account
func (e *Executor) Address() common.Address {
	return e.cfg.Self
}

// Config returns the immutable configuration
func (e *Executor) Config() Config {
	return e.cfg
}

// Engine returns the calculation engine used for pre-flight planning
func (e *Executor) Engine() *calculation.Engine {
	return e.engine
}

// State returns the current state
func (e *Executor) State() State {
	return State(e.state.Load())
}

// Execute runs one arbitrage. On any failure every balance change is
// reverted and the typed error is returned.
func (e *Executor) Execute(ctx context.Context, caller common.Address, spec types.TradeSpec) (*types.ExecutionResult, error) {
	start := time.Now()
	id := uuid.New()

	userData, result, err := e.execute(ctx, caller, spec)

	ev := events.Event{
		InvocationID: id,
		Fingerprint:  events.Fingerprint(userData),
		Caller:       caller,
		Token:        spec.Token,
		Amount:       spec.Amount,
		PathLength:   len(spec.Path),
		Duration:     time.Since(start),
		Time:         start,
	}
	if err != nil {
		ev.Type = events.Aborted
		ev.Kind = types.KindOf(err)
		ev.Err = err
	} else {
		ev.Type = events.Completed
		ev.Profit = result.Profit
	}
	e.sink.Emit(ev)

	return result, err
}

func (e *Executor) execute(ctx context.Context, caller common.Address, spec types.TradeSpec) ([]byte, *types.ExecutionResult, error) {
	// Any call while an invocation is open is re-entry, whatever ctx it
	// carries. It must be refused here, before waiting on the ledger that
	// the open invocation holds.
	if st := e.State(); st != Idle {
		e.tripped.Store(true)
		return nil, nil, types.NewError(types.KindReentrancyDetected, "execute",
			fmt.Errorf("invoked while %s", st))
	}

	if err := e.authorize(caller); err != nil {
		return nil, nil, err
	}
	if err := spec.Path.Validate(spec.Token, spec.Amount); err != nil {
		return nil, nil, err
	}
	if spec.MinProfit != nil && spec.MinProfit.Sign() < 0 {
		return nil, nil, types.NewError(types.KindInvalidTolerance, "execute",
			fmt.Errorf("negative minimum profit %s", spec.MinProfit))
	}
	if spec.SlippageBps > calculation.MaxToleranceBps {
		return nil, nil, types.NewError(types.KindInvalidTolerance, "execute", fmt.Errorf("%d bps", spec.SlippageBps))
	}

	userData, err := EncodeTrade(spec)
	if err != nil {
		return nil, nil, types.NewError(types.KindArithmeticOverflow, "encode", err)
	}

	var result *types.ExecutionResult
	err = e.ledger.Atomic(ctx, func(ctx context.Context) error {
		// state and pending change together under mu; a callback that
		// sees LoanRequested reads pending under mu and finds this loan
		e.mu.Lock()
		if e.pending != nil || !e.state.CompareAndSwap(int32(Idle), int32(LoanRequested)) {
			e.mu.Unlock()
			return types.NewError(types.KindReentrancyDetected, "execute", fmt.Errorf("invoked while %s", e.State()))
		}
		e.pending = &pendingLoan{spec: spec, userData: userData}
		e.mu.Unlock()
		e.tripped.Store(false)
		defer e.release()

		if err := e.loans.RequestLoan(ctx, e, spec.Token, spec.Amount, userData); err != nil {
			e.state.Store(int32(Aborted))
			return types.Classify("flash loan", err)
		}
		if e.tripped.Load() {
			e.state.Store(int32(Aborted))
			return types.NewError(types.KindReentrancyDetected, "execute", fmt.Errorf("re-entry refused during invocation"))
		}
		if e.State() != Done {
			e.state.Store(int32(Aborted))
			return types.NewError(types.KindExternalFailure, "flash loan", fmt.Errorf("vault returned without calling back"))
		}

		result = e.pendingResult()
		return nil
	})
	if err != nil {
		return userData, nil, types.Classify("execute", err)
	}
	return userData, result, nil
}

// ReceiveFlashLoan is the vault callback. It executes the pending trade
// and leaves principal plus fee in the vault.
func (e *Executor) ReceiveFlashLoan(ctx context.Context, caller, token common.Address, amount, fee *big.Int, userData []byte) error {
	if caller != e.cfg.Vault {
		return types.NewError(types.KindUnauthorizedCallback, "callback",
			fmt.Errorf("caller %s is not the vault", caller.Hex()))
	}

	if !e.state.CompareAndSwap(int32(LoanRequested), int32(LoanReceived)) {
		if st := e.State(); st != Idle {
			e.tripped.Store(true)
			return types.NewError(types.KindReentrancyDetected, "callback", fmt.Errorf("callback while %s", st))
		}
		return types.NewError(types.KindLoanMismatch, "callback", fmt.Errorf("no loan outstanding"))
	}

	result, err := e.onLoan(ctx, token, amount, fee, userData)
	if err != nil {
		e.state.Store(int32(Aborted))
		return err
	}

	e.mu.Lock()
	if e.pending != nil {
		e.pending.result = result
	}
	e.mu.Unlock()
	e.state.Store(int32(Done))
	return nil
}

func (e *Executor) onLoan(ctx context.Context, token common.Address, amount, fee *big.Int, userData []byte) (*types.ExecutionResult, error) {
	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending == nil {
		return nil, types.NewError(types.KindLoanMismatch, "callback", fmt.Errorf("no loan outstanding"))
	}

	spec, err := DecodeTrade(userData)
	if err != nil {
		return nil, types.NewError(types.KindLoanMismatch, "callback", err)
	}
	if !bytes.Equal(userData, pending.userData) {
		return nil, types.NewError(types.KindLoanMismatch, "callback", fmt.Errorf("user data differs from request"))
	}
	if token != spec.Token || amount == nil || amount.Cmp(spec.Amount) != 0 {
		return nil, types.NewError(types.KindLoanMismatch, "callback",
			fmt.Errorf("received %s of %s, requested %s of %s", amount, token.Hex(), spec.Amount, spec.Token.Hex()))
	}
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Sign() < 0 {
		return nil, types.NewError(types.KindLoanMismatch, "callback", fmt.Errorf("negative fee %s", fee))
	}

	loan := types.LoanRequest{Token: token, Amount: new(big.Int).Set(amount), Fee: new(big.Int).Set(fee)}
	minProfit := spec.MinProfit
	if minProfit == nil {
		minProfit = new(big.Int)
	}

	plan, err := e.engine.PlanPath(ctx, spec.Path, loan, e.tolerance(spec))
	if err != nil {
		return nil, err
	}
	if plan.ExpectedProfit.Cmp(minProfit) < 0 {
		return nil, types.NewError(types.KindUnprofitableTrade, "pre-flight",
			fmt.Errorf("quotes project %s after repaying %s, need %s", plan.ExpectedProfit, loan.Repayment(), minProfit))
	}

	e.state.Store(int32(PathExecuting))
	realized, err := e.runPath(ctx, spec.Path, amount, plan.MinOuts)
	if err != nil {
		return nil, err
	}

	e.state.Store(int32(ProfitCheck))
	final := realized[len(realized)-1]
	profit := calculation.NetProfit(final, loan)
	if profit.Cmp(minProfit) < 0 {
		return nil, types.NewError(types.KindUnprofitableTrade, "profit check",
			fmt.Errorf("final %s leaves %s after repaying %s, need %s", final, profit, loan.Repayment(), minProfit))
	}

	e.state.Store(int32(Settling))
	repayment := loan.Repayment()
	if err := e.ledger.Transfer(ctx, token, e.cfg.Self, e.cfg.Vault, repayment); err != nil {
		return nil, types.Classify("repay", err)
	}
	if profit.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, token, e.cfg.Self, e.cfg.Owner, profit); err != nil {
			return nil, types.Classify("forward surplus", err)
		}
	}

	e.logger.Debug("Settled flash loan",
		zap.String("token", e.ledger.Format(token, amount)),
		zap.String("repayment", repayment.String()),
		zap.String("profit", profit.String()),
		zap.String("owner", e.cfg.Owner.Hex()))

	return &types.ExecutionResult{
		Loan:      loan,
		Quoted:    plan.Quotes,
		Realized:  realized,
		Repayment: repayment,
		Profit:    profit,
	}, nil
}

// runPath executes legs in order, feeding each output into the next leg.
// Realized amounts are measured on the ledger rather than taken from the venue.
func (e *Executor) runPath(ctx context.Context, path types.Path, amountIn *big.Int, minOuts []*big.Int) ([]*big.Int, error) {
	realized := make([]*big.Int, len(path))

	for i, leg := range path {
		op := fmt.Sprintf("leg %d", i)
		venue, ok := e.venues.Get(leg.Venue)
		if !ok {
			return nil, types.NewError(types.KindInvalidPath, op, fmt.Errorf("unknown venue %s", leg.Venue.Hex()))
		}

		before := e.ledger.BalanceOf(leg.TokenOut, e.cfg.Self)
		reported, err := venue.Swap(ctx, e.cfg.Self, leg.TokenIn, leg.TokenOut, amountIn, minOuts[i])
		if e.tripped.Load() {
			return nil, types.NewError(types.KindReentrancyDetected, op, fmt.Errorf("%s re-entered the executor", venue.Name()))
		}
		if err != nil {
			return nil, types.Classify(op, fmt.Errorf("%s: %w", venue.Name(), err))
		}

		out := new(big.Int).Sub(e.ledger.BalanceOf(leg.TokenOut, e.cfg.Self), before)
		if reported != nil && reported.Cmp(out) != 0 {
			e.logger.Warn("Venue reported a different output than it paid",
				zap.String("venue", venue.Name()),
				zap.String("reported", reported.String()),
				zap.String("received", out.String()))
		}
		if out.Cmp(minOuts[i]) < 0 {
			return nil, types.NewError(types.KindSlippageExceeded, op,
				fmt.Errorf("%s paid %s, minimum %s", venue.Name(), out, minOuts[i]))
		}

		e.logger.Debug("Leg executed",
			zap.Int("leg", i),
			zap.String("venue", venue.Name()),
			zap.String("amount_in", amountIn.String()),
			zap.String("amount_out", out.String()))

		realized[i] = out
		amountIn = out
	}

	return realized, nil
}

func (e *Executor) authorize(caller common.Address) error {
	if e.cfg.Policy == OwnerOnly && caller != e.cfg.Owner {
		return types.NewError(types.KindUnauthorizedCaller, "execute",
			fmt.Errorf("caller %s is not the owner", caller.Hex()))
	}
	return nil
}

func (e *Executor) tolerance(spec types.TradeSpec) uint32 {
	if spec.SlippageBps != 0 {
		return spec.SlippageBps
	}
	return e.cfg.SlippageBps
}

func (e *Executor) pendingResult() *types.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.result
}

// release returns the guard to Idle once the invocation has reached a
// terminal state.
func (e *Executor) release() {
	e.tripped.Store(false)
	e.mu.Lock()
	e.pending = nil
	e.state.Store(int32(Idle))
	e.mu.Unlock()
}
