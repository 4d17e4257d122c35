package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"signalflow/internal/types"
)

// ErrInvalidFill rejects fills with non-positive quantity or negative
// notional before they can corrupt an aggregate.
var ErrInvalidFill = errors.New("ledger: invalid fill")

// Ledger is the in-memory position book. ApplyFill is the sole mutator
// and serializes per key; reads return copies, so callers never hold a
// reference into the book. Operations on different keys never block each
// other.
type Ledger struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

type entry struct {
	mu  sync.Mutex
	pos Position
}

func New() *Ledger {
	return &Ledger{entries: make(map[Key]*entry)}
}

func (l *Ledger) entryFor(key Key) *entry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; ok {
		return e
	}
	e = &entry{pos: Position{AccountID: key.AccountID, Symbol: key.Symbol}}
	e.pos.normalize()
	l.entries[key] = e
	return e
}

// ApplyFill folds a confirmed fill into the same-day side of the keyed
// aggregate and returns the updated snapshot. Fill quantity must be
// positive and the notional non-negative; side must be buy or sell.
func (l *Ledger) ApplyFill(key Key, side types.Side, fillQty int64, fillAmt decimal.Decimal) (Position, error) {
	if fillQty <= 0 {
		return Position{}, fmt.Errorf("%w: quantity %d", ErrInvalidFill, fillQty)
	}
	if fillAmt.IsNegative() {
		return Position{}, fmt.Errorf("%w: negative amount %s", ErrInvalidFill, fillAmt)
	}
	if side != types.SideBuy && side != types.SideSell {
		return Position{}, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}

	e := l.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if side == types.SideBuy {
		e.pos.FlBuyQty += fillQty
		e.pos.FlBuyAmt = e.pos.FlBuyAmt.Add(fillAmt)
	} else {
		e.pos.FlSellQty += fillQty
		e.pos.FlSellAmt = e.pos.FlSellAmt.Add(fillAmt)
	}
	e.pos.LastPrice = fillAmt.DivRound(decimal.NewFromInt(fillQty).Mul(e.pos.conversion()), e.pos.Precision)
	return e.pos, nil
}

// MarkPrice records the instrument's last traded price without touching
// quantities.
func (l *Ledger) MarkPrice(key Key, ltp decimal.Decimal) {
	e := l.entryFor(key)
	e.mu.Lock()
	e.pos.LastPrice = ltp
	e.mu.Unlock()
}

// Snapshot returns a copy of the keyed aggregate.
func (l *Ledger) Snapshot(key Key) (Position, bool) {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return Position{}, false
	}
	e.mu.Lock()
	pos := e.pos
	e.mu.Unlock()
	return pos, true
}

// Snapshots returns copies of every aggregate, optionally filtered by
// account. Pass an empty account for all.
func (l *Ledger) Snapshots(accountID string) []Position {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for key, e := range l.entries {
		if accountID != "" && key.AccountID != accountID {
			continue
		}
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	return out
}

// OpenPositions counts aggregates carrying net exposure for an account.
func (l *Ledger) OpenPositions(accountID string) int {
	count := 0
	for _, pos := range l.Snapshots(accountID) {
		if !pos.Flat() {
			count++
		}
	}
	return count
}

// Replace installs a broker-sourced aggregate verbatim, keyed by its own
// account and symbol. Used when reconciling against the positions-query
// interface; normal trading flows go through ApplyFill.
func (l *Ledger) Replace(pos Position) {
	pos.normalize()
	e := l.entryFor(Key{AccountID: pos.AccountID, Symbol: pos.Symbol})
	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()
}
