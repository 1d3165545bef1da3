package runloop_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store/memory"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
	"github.com/BrandonDHaskell/Rollcall/internal/runloop"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted hands out queued scans one per Poll.
type scripted struct {
	mu    sync.Mutex
	scans [][]byte
}

func (s *scripted) push(raw ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, raw...)
}

func (s *scripted) Poll() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scans) == 0 {
		return nil, false
	}
	raw := s.scans[0]
	s.scans = s.scans[1:]
	return raw, true
}

// trace records the order in which the loop touches its collaborators.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, s)
}

func (t *trace) Flush() { t.add("flush") }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testLoop struct {
	loop   *runloop.Loop
	reader *scripted
	ledger *memory.Ledger
	trace  *trace
	clock  *fakeClock
}

func newTestLoop(users ...types.UserRecord) *testLoop {
	dir := service.NewDirectory()
	dir.Replace(users)
	ledger := memory.NewLedger()
	rec := service.NewReconciler(service.ReconcilerDeps{
		Directory: dir,
		Ledger:    ledger,
		Logger:    silentLogger(),
	})
	tl := &testLoop{
		reader: &scripted{},
		ledger: ledger,
		trace:  &trace{},
		clock:  &fakeClock{t: time.Unix(1000, 0)},
	}
	tl.loop = runloop.New(
		runloop.Config{Tick: time.Millisecond, Debounce: 300 * time.Millisecond},
		runloop.Deps{Reader: tl.reader, Reconciler: rec, Hub: tl.trace, Logger: silentLogger()},
	).WithClock(tl.clock.now)
	return tl
}

// ── Scans ────────────────────────────────────────────────────────────────────

func TestTick_ReconcilesOneScanPerTick(t *testing.T) {
	tl := newTestLoop(types.UserRecord{UID: "04A1B2C3", Name: "Ada"})
	tl.reader.push([]byte{0x04, 0xA1, 0xB2, 0xC3}, []byte{0xFF})

	tl.loop.Tick(context.Background())
	if n := len(tl.ledger.Events()); n != 1 {
		t.Fatalf("expected 1 event after first tick, got %d", n)
	}
	ev := tl.ledger.Events()[0]
	if ev.UID != "04A1B2C3" || ev.Outcome != types.OutcomeAccepted {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestTick_EmptyScanIgnored(t *testing.T) {
	tl := newTestLoop()
	tl.reader.push([]byte{})

	tl.loop.Tick(context.Background())
	if n := len(tl.ledger.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestTick_Debounce(t *testing.T) {
	tl := newTestLoop()
	ctx := context.Background()
	card := []byte{0xAB}

	tl.reader.push(card)
	tl.loop.Tick(ctx)

	tl.clock.advance(100 * time.Millisecond)
	tl.reader.push(card)
	tl.loop.Tick(ctx)
	if n := len(tl.ledger.Events()); n != 1 {
		t.Fatalf("expected second read inside the window to be discarded, got %d events", n)
	}

	tl.clock.advance(300 * time.Millisecond)
	tl.reader.push(card)
	tl.loop.Tick(ctx)
	if n := len(tl.ledger.Events()); n != 2 {
		t.Fatalf("expected read after the window to count, got %d events", n)
	}
}

func TestTick_FlushAfterJobs(t *testing.T) {
	tl := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- tl.loop.Do(ctx, func(context.Context) error {
			tl.trace.add("job")
			return nil
		})
	}()

	// Wait until the job is queued, then step once.
	deadline := time.Now().Add(time.Second)
	for {
		tl.loop.Tick(ctx)
		tl.trace.mu.Lock()
		n := len(tl.trace.steps)
		tl.trace.mu.Unlock()
		if n >= 2 && tl.trace.steps[n-2] == "job" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(time.Millisecond)
	}

	if err := <-errc; err != nil {
		t.Fatalf("Do: %v", err)
	}
	tl.trace.mu.Lock()
	defer tl.trace.mu.Unlock()
	if last := tl.trace.steps[len(tl.trace.steps)-1]; last != "flush" {
		t.Errorf("expected flush after job, got %v", tl.trace.steps)
	}
}

// ── Do ───────────────────────────────────────────────────────────────────────

func TestDo_RunsOnLoopAndReturnsError(t *testing.T) {
	tl := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.loop.Run(ctx)

	want := errors.New("boom")
	err := tl.loop.Do(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestDo_SerializesJobs(t *testing.T) {
	tl := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.loop.Run(ctx)

	var (
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tl.loop.Do(ctx, func(context.Context) error {
				running++
				if running > maxSeen {
					maxSeen = running
				}
				running--
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("expected jobs to run one at a time, saw %d", maxSeen)
	}
}

func TestDo_AfterStop(t *testing.T) {
	tl := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tl.loop.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	err := tl.loop.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, runloop.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestDo_PanicRecovered(t *testing.T) {
	tl := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.loop.Run(ctx)

	if err := tl.loop.Do(ctx, func(context.Context) error { panic("bad job") }); err == nil {
		t.Fatal("expected error from panicking job")
	}
	if err := tl.loop.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("loop should survive a panicking job: %v", err)
	}
}

func TestInline_RunsImmediately(t *testing.T) {
	ran := false
	err := runloop.Inline{}.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected inline run, err=%v ran=%v", err, ran)
	}
}

func TestAlive(t *testing.T) {
	tl := newTestLoop()
	if tl.loop.Alive(time.Second) {
		t.Error("expected not alive before first tick")
	}
	tl.loop.Tick(context.Background())
	if !tl.loop.Alive(time.Second) {
		t.Error("expected alive right after a tick")
	}
	tl.clock.advance(2 * time.Second)
	if tl.loop.Alive(time.Second) {
		t.Error("expected stale after 2s")
	}
}
