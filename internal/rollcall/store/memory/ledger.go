package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// Ledger is an in-memory append-only log of attendance events.
// It is intended for use in tests and dev environments.
type Ledger struct {
	mu          sync.Mutex
	initialized int
	events      []types.AttendanceEvent
	failErr     error
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *Ledger) EnsureInitialized(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized++
	return nil
}

func (l *Ledger) Append(_ context.Context, ev types.AttendanceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of all appended events.  Test-only helper.
func (l *Ledger) Events() []types.AttendanceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AttendanceEvent, len(l.events))
	copy(out, l.events)
	return out
}
