// Package dedup tracks trade ids already seen during this process's lifetime
// so duplicates are dropped before they ever reach the store. The ledger is
// an approximation by design: it is periodically truncated to bound memory,
// and the store's uniqueness constraint remains the authoritative backstop.
package dedup

import (
	"github.com/vkuzmin/whalewatch/internal/model"
)

const (
	// DefaultMaxIDs is the per-symbol id set size that triggers truncation.
	DefaultMaxIDs = 10_000
	// DefaultKeepIDs is how many of the most recent ids survive truncation.
	DefaultKeepIDs = 5_000
)

type symbolState struct {
	seen          map[string]struct{}
	order         []string // admission order, oldest first; mirrors seen
	lastTradeTime int64    // max trade timestamp observed, ms since epoch
}

// Ledger filters out trades already observed for a symbol. It is owned by a
// single worker and is not safe for concurrent use.
type Ledger struct {
	maxIDs  int
	keepIDs int
	symbols map[string]*symbolState
}

// NewLedger creates a Ledger with the default truncation bounds.
func NewLedger() *Ledger {
	return NewLedgerWithBounds(DefaultMaxIDs, DefaultKeepIDs)
}

// NewLedgerWithBounds creates a Ledger that truncates each symbol's id set to
// keepIDs entries once it exceeds maxIDs.
func NewLedgerWithBounds(maxIDs, keepIDs int) *Ledger {
	return &Ledger{
		maxIDs:  maxIDs,
		keepIDs: keepIDs,
		symbols: make(map[string]*symbolState),
	}
}

// Filter returns the trades not yet seen for their symbol and records them as
// seen. A trade older than the symbol's newest observed timestamp whose id is
// already recorded is a duplicate; a trade with a newer timestamp is always
// admitted.
func (l *Ledger) Filter(trades []model.Trade) []model.Trade {
	fresh := trades[:0:0]
	for _, t := range trades {
		st, ok := l.symbols[t.Symbol]
		if !ok {
			st = &symbolState{seen: make(map[string]struct{})}
			l.symbols[t.Symbol] = st
		}

		if t.TradeTime <= st.lastTradeTime {
			if _, dup := st.seen[t.ID]; dup {
				continue
			}
		}

		if _, ok := st.seen[t.ID]; !ok {
			st.seen[t.ID] = struct{}{}
			st.order = append(st.order, t.ID)
		}
		if t.TradeTime > st.lastTradeTime {
			st.lastTradeTime = t.TradeTime
		}
		fresh = append(fresh, t)

		if len(st.seen) > l.maxIDs {
			st.truncate(l.keepIDs)
		}
	}
	return fresh
}

// Seen reports whether the id has been recorded for the symbol.
func (l *Ledger) Seen(symbol, id string) bool {
	st, ok := l.symbols[symbol]
	if !ok {
		return false
	}
	_, seen := st.seen[id]
	return seen
}

// Size returns the number of ids currently tracked for the symbol.
func (l *Ledger) Size(symbol string) int {
	st, ok := l.symbols[symbol]
	if !ok {
		return 0
	}
	return len(st.seen)
}

// truncate evicts the oldest-admitted ids, keeping the keep most recent.
// Admission order is the recency key; id strings carry no usable order
// across formats or digit widths. Very old ids dropped here may be
// re-admitted as "new" later; the store's uniqueness constraint absorbs
// that.
func (st *symbolState) truncate(keep int) {
	drop := len(st.order) - keep
	for _, id := range st.order[:drop] {
		delete(st.seen, id)
	}
	st.order = append(st.order[:0:0], st.order[drop:]...)
}
