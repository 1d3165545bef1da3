package service_test

import (
	"io"
	"log/slog"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store/memory"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock uint64

func (c fixedClock) Seconds() uint64 { return uint64(c) }

// recorder captures feedback signals and published events in call order.
type recorder struct {
	mu      sync.Mutex
	calls   []string
	signals []types.Outcome
	events  []types.LiveEvent
}

func (r *recorder) Signal(o types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "signal")
	r.signals = append(r.signals, o)
}

func (r *recorder) Publish(ev types.LiveEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "publish")
	r.events = append(r.events, ev)
}

// newTestReconciler builds a Reconciler over an in-memory ledger with the
// given directory contents.
func newTestReconciler(users ...types.UserRecord) (*service.Reconciler, *memory.Ledger, *recorder) {
	dir := service.NewDirectory()
	dir.Replace(users)
	ledger := memory.NewLedger()
	rec := &recorder{}
	r := service.NewReconciler(service.ReconcilerDeps{
		Directory: dir,
		Ledger:    ledger,
		Feedback:  rec,
		Publisher: rec,
		Clock:     fixedClock(42),
		Logger:    silentLogger(),
	})
	return r, ledger, rec
}
