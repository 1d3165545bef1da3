package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Rollcall/internal/metrics"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/codec"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

const tracerName = "github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"

// Signaler plays the physical accept/deny pattern.  It must not fail.
type Signaler interface {
	Signal(outcome types.Outcome)
}

// Publisher hands a live event to the dashboard broadcaster.
type Publisher interface {
	Publish(ev types.LiveEvent)
}

// Result is the outcome of one reconciliation.  Logged is false when the
// ledger append failed; the event was still broadcast.
type Result struct {
	Event  types.AttendanceEvent
	Logged bool
}

type ReconcilerDeps struct {
	Directory *Directory
	Ledger    store.Ledger
	Feedback  Signaler
	Publisher Publisher
	Clock     Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// Reconciler turns a canonical identifier into an attendance event: cache
// lookup, feedback, ledger append and broadcast, strictly in that order.
type Reconciler struct {
	dir     *Directory
	ledger  store.Ledger
	signal  Signaler
	pub     Publisher
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		dir:     deps.Directory,
		ledger:  deps.Ledger,
		signal:  deps.Feedback,
		pub:     deps.Publisher,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}
	if r.clock == nil {
		r.clock = NewBootClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Reconcile runs the scan pipeline for uid.  An empty uid returns
// ErrInvalidScan with no side effects.  A ledger failure is logged and
// reported through Result.Logged; it never aborts feedback or broadcast.
func (r *Reconciler) Reconcile(ctx context.Context, uid string, method types.Method) (Result, error) {
	if uid == "" {
		r.metrics.IncInvalidScans()
		r.logger.Debug("ignoring empty scan", "method", method)
		return Result{}, ErrInvalidScan
	}

	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "rollcall.reconcile",
		trace.WithAttributes(
			attribute.String("uid", uid),
			attribute.String("method", string(method)),
		))
	defer span.End()

	outcome := types.OutcomeAccepted
	name, ok := r.dir.Lookup(uid)
	if !ok {
		outcome = types.OutcomeDenied
		name = types.UnknownName
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	// Physical feedback only makes sense for someone standing at the reader.
	if method == types.MethodBadgeRead && r.signal != nil {
		r.signal.Signal(outcome)
	}

	ev := types.AttendanceEvent{
		Timestamp: r.clock.Seconds(),
		UID:       uid,
		Name:      name,
		Method:    method,
		Outcome:   outcome,
	}

	logged := true
	if err := r.ledger.Append(ctx, ev); err != nil {
		logged = false
		r.metrics.IncLedgerFailures()
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger append failed")
		r.logger.Error("ledger append failed", "uid", uid, "error", err)
	}

	span.SetAttributes(attribute.Bool("logged", logged))

	if r.pub != nil {
		r.pub.Publish(types.NewLiveEvent(ev))
	}

	r.metrics.ObserveScan(outcome, method, time.Since(started).Seconds())
	r.logger.Info("scan", "uid", uid, "name", name, "result", outcome, "method", method)

	return Result{Event: ev, Logged: logged}, nil
}

// CheckIn reconciles an identifier typed at the management console.  The
// identifier is normalized first so it matches what the reader produces.
func (r *Reconciler) CheckIn(ctx context.Context, req types.CheckinRequest) (Result, error) {
	uid, err := normalizeUID(req.UID)
	if err != nil {
		return Result{}, err
	}
	return r.Reconcile(ctx, uid, types.MethodManagementConsole)
}

func normalizeUID(raw string) (string, error) {
	uid, err := codec.Normalize(raw)
	switch {
	case errors.Is(err, codec.ErrMalformedHex):
		return "", ErrMalformedUID
	case err != nil:
		return "", err
	case uid == "":
		return "", ErrMissingUID
	}
	return uid, nil
}
