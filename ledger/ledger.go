package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/types"
	"go.uber.org/zap"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance
var ErrInsufficientBalance = errors.New("insufficient balance")

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type journalEntry struct {
	key  balanceKey
	prev *big.Int // nil when the slot did not exist
}

type txKey struct{}

// Ledger is a journaled token balance store. Atomic gives callers the
// all-or-nothing semantics of a single chain transaction: every balance
// change made inside fn is undone if fn fails.
type Ledger struct {
	txSem chan struct{} // held for the duration of an outermost Atomic call

	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
	journal  []journalEntry
	assets   map[common.Address]types.Asset

	logger *zap.Logger
}

// New creates an empty ledger
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		txSem:    make(chan struct{}, 1),
		balances: make(map[balanceKey]*big.Int),
		assets:   make(map[common.Address]types.Asset),
		logger:   logger,
	}
}

// RegisterAsset records token metadata used for formatting
func (l *Ledger) RegisterAsset(asset types.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[asset.Address] = asset
}

// Asset returns registered token metadata
func (l *Ledger) Asset(token common.Address) (types.Asset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	asset, ok := l.assets[token]
	return asset, ok
}

// BalanceOf returns a copy of holder's balance of token
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[balanceKey{token, holder}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Mint credits amount of token to holder. Like Transfer it joins the
// transaction ctx belongs to, or runs as its own transaction otherwise.
func (l *Ledger) Mint(ctx context.Context, token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid mint amount %v", amount)
	}

	return l.write(ctx, func() error {
		key := balanceKey{token, to}
		l.set(key, new(big.Int).Add(l.get(key), amount))
		return nil
	})
}

// Transfer moves amount of token from one holder to another
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount %v", amount)
	}

	return l.write(ctx, func() error {
		fromKey := balanceKey{token, from}
		fromBal := l.get(fromKey)
		if fromBal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s holds %s of %s, needs %s",
				ErrInsufficientBalance, from.Hex(), fromBal, token.Hex(), amount)
		}
		if from == to || amount.Sign() == 0 {
			return nil
		}

		toKey := balanceKey{token, to}
		l.set(fromKey, new(big.Int).Sub(fromBal, amount))
		l.set(toKey, new(big.Int).Add(l.get(toKey), amount))
		return nil
	})
}

// write applies fn under the balance lock. A write whose ctx carries no
// transaction waits for the open one and commits on its own, so it never
// lands in another caller's journal.
func (l *Ledger) write(ctx context.Context, fn func() error) error {
	locked := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		return fn()
	}
	if l.InTransaction(ctx) {
		return locked(ctx)
	}
	return l.Atomic(ctx, locked)
}

// Snapshot returns an identifier for the current state. Snapshots are only
// meaningful inside Atomic; writes outside one commit immediately.
func (l *Ledger) Snapshot() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every change made after the snapshot was taken
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id > len(l.journal) {
		panic(fmt.Sprintf("ledger: invalid snapshot id %d (journal length %d)", id, len(l.journal)))
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		entry := l.journal[i]
		if entry.prev == nil {
			delete(l.balances, entry.key)
		} else {
			l.balances[entry.key] = entry.prev
		}
	}
	l.journal = l.journal[:id]
}

// Atomic runs fn as one transaction. Outermost calls are serialized and
// give up waiting when ctx is done; calls made with a context derived from
// an enclosing Atomic nest inside it. Any error from fn, or a cancelled
// context, reverts fn's effects.
func (l *Ledger) Atomic(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	nested := ctx.Value(txKey{}) == l
	if !nested {
		select {
		case l.txSem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-l.txSem }()
		ctx = context.WithValue(ctx, txKey{}, l)
	}

	snap := l.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			l.RevertToSnapshot(snap)
			panic(r)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			l.RevertToSnapshot(snap)
			l.logger.Debug("Transaction reverted", zap.Int("snapshot", snap), zap.Error(err))
			return
		}
		if !nested {
			l.commit()
		}
	}()

	return fn(ctx)
}

// InTransaction reports whether ctx belongs to an open Atomic call on l
func (l *Ledger) InTransaction(ctx context.Context) bool {
	return ctx.Value(txKey{}) == l
}

// Format renders amount using the token's registered decimals
func (l *Ledger) Format(token common.Address, amount *big.Int) string {
	asset, ok := l.Asset(token)
	if !ok || amount == nil {
		return fmt.Sprint(amount)
	}
	return FormatUnits(amount, asset.Decimals) + " " + asset.Symbol
}

// FormatUnits renders amount as a decimal string with the given precision
func FormatUnits(amount *big.Int, decimals uint8) string {
	if decimals == 0 {
		return amount.String()
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	split := len(digits) - int(decimals)
	frac := strings.TrimRight(digits[split:], "0")
	out := digits[:split]
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal string such as "1.5" into base units.
// Plain integers are taken as base units already when decimals is 0.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if hasFrac && len(frac) > int(decimals) {
		return nil, fmt.Errorf("%q has more than %d decimals", s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return out, nil
}

func (l *Ledger) commit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
}

func (l *Ledger) get(key balanceKey) *big.Int {
	if bal, ok := l.balances[key]; ok {
		return bal
	}
	return new(big.Int)
}

func (l *Ledger) set(key balanceKey, value *big.Int) {
	prev, ok := l.balances[key]
	if ok {
		l.journal = append(l.journal, journalEntry{key: key, prev: prev})
	} else {
		l.journal = append(l.journal, journalEntry{key: key})
	}
	l.balances[key] = value
}
