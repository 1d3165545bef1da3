// Package runloop owns the single goroutine on which scans are reconciled
// and the user directory is written.
//
// Each tick does, in order: poll the reader and reconcile at most one scan,
// run the jobs queued through Do, then flush the broadcaster.
package runloop

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/Rollcall/internal/metrics"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/codec"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/reader"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

var ErrStopped = errors.New("run loop stopped")

const (
	defaultTick     = 20 * time.Millisecond
	defaultDebounce = 300 * time.Millisecond
	jobQueue        = 64
)

// Executor runs fn on the loop goroutine and returns its error.
type Executor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inline runs fn on the caller's goroutine.  Used where no loop runs, such
// as one-shot provisioning.
type Inline struct{}

func (Inline) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Reconciler interface {
	Reconcile(ctx context.Context, uid string, method types.Method) (service.Result, error)
}

type Flusher interface {
	Flush()
}

type Config struct {
	Tick     time.Duration
	Debounce time.Duration
}

type Deps struct {
	Reader     reader.Reader
	Reconciler Reconciler
	Hub        Flusher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type job struct {
	ctx context.Context
	fn  func(ctx context.Context) error
	ch  chan error
}

type Loop struct {
	reader  reader.Reader
	rec     Reconciler
	hub     Flusher
	logger  *slog.Logger
	metrics *metrics.Metrics

	tick     time.Duration
	debounce time.Duration
	now      func() time.Time

	jobs    chan job
	stopped chan struct{}

	lastScan time.Time
	lastTick atomic.Int64
}

func New(cfg Config, deps Deps) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if deps.Reader == nil {
		deps.Reader = reader.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Loop{
		reader:   deps.Reader,
		rec:      deps.Reconciler,
		hub:      deps.Hub,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		tick:     cfg.Tick,
		debounce: cfg.Debounce,
		now:      time.Now,
		jobs:     make(chan job, jobQueue),
		stopped:  make(chan struct{}),
	}
}

// WithClock replaces time.Now, for tests.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// Run ticks until ctx is cancelled.  Jobs still queued at that point fail
// with ErrStopped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	l.logger.Info("run loop started", "tick", l.tick, "debounce", l.debounce)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("run loop stopping")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one iteration.  Exported so tests can step the loop.
func (l *Loop) Tick(ctx context.Context) {
	l.lastTick.Store(l.now().UnixNano())

	if raw, ok := l.reader.Poll(); ok {
		l.handleScan(ctx, raw)
	}

	l.runJobs()

	if l.hub != nil {
		l.hub.Flush()
	}
}

// Do queues fn for the next tick and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ch := make(chan error, 1)
	select {
	case l.jobs <- job{ctx: ctx, fn: fn, ch: ch}:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-l.stopped:
		// The final drain may have answered just before stopped closed.
		select {
		case err := <-ch:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Alive reports whether a tick ran within the last maxAge.
func (l *Loop) Alive(maxAge time.Duration) bool {
	last := l.lastTick.Load()
	if last == 0 {
		return false
	}
	return l.now().Sub(time.Unix(0, last)) <= maxAge
}

func (l *Loop) handleScan(ctx context.Context, raw []byte) {
	uid := codec.Canonicalize(raw)
	now := l.now()

	if uid != "" && !l.lastScan.IsZero() && now.Sub(l.lastScan) < l.debounce {
		l.metrics.IncDebouncedScans()
		l.logger.Debug("debounced scan", "uid", uid)
		return
	}

	if _, err := l.rec.Reconcile(ctx, uid, types.MethodBadgeRead); err != nil {
		if !errors.Is(err, service.ErrInvalidScan) {
			l.logger.Error("reconcile failed", "uid", uid, "error", err)
		}
		return
	}
	l.lastScan = now
}

// runJobs drains what is queued right now; jobs queued meanwhile wait for
// the next tick.
func (l *Loop) runJobs() {
	for n := len(l.jobs); n > 0; n-- {
		j := <-l.jobs
		j.ch <- l.runJob(j)
	}
}

func (l *Loop) runJob(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", "panic", r)
			err = errors.New("job panicked")
		}
	}()
	return j.fn(j.ctx)
}

func (l *Loop) stop() {
	close(l.stopped)
	for {
		select {
		case j := <-l.jobs:
			j.ch <- ErrStopped
		default:
			return
		}
	}
}
