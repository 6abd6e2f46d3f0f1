package risk

import (
	"sync"
	"time"
)

// DayWindow is the trailing window the daily volume cap is taken over.
const DayWindow = 24 * time.Hour

type ledgerEntry struct {
	at       time.Time
	notional float64
}

// Ledger tracks notional traded over a trailing window. Execution
// appends to it after fills; the gate only reads, so the gate itself
// stays side-effect free.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	entries []ledgerEntry

	now func() time.Time
}

func NewLedger(window time.Duration) *Ledger {
	return &Ledger{window: window, now: time.Now}
}

func (l *Ledger) Add(notional float64) {
	if notional <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	l.entries = append(l.entries, ledgerEntry{at: l.now(), notional: notional})
}

// Total is the notional traded inside the trailing window.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	sum := 0.0
	for _, e := range l.entries {
		sum += e.notional
	}
	return sum
}

func (l *Ledger) prune() {
	cutoff := l.now().Add(-l.window)
	idx := 0
	for idx < len(l.entries) && !l.entries[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.entries = append(l.entries[:0], l.entries[idx:]...)
	}
}
