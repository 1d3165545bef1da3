package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// ── Known and unknown badges ─────────────────────────────────────────────────

func TestReconcile_KnownBadge_Accepted(t *testing.T) {
	r, ledger, rec := newTestReconciler(types.UserRecord{UID: "04A1B2C3", Name: "Ada"})

	res, err := r.Reconcile(context.Background(), "04A1B2C3", types.MethodBadgeRead)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Event.Outcome != types.OutcomeAccepted {
		t.Errorf("expected accepted, got %q", res.Event.Outcome)
	}
	if res.Event.Name != "Ada" {
		t.Errorf("expected name=Ada, got %q", res.Event.Name)
	}
	if !res.Logged {
		t.Error("expected Logged=true")
	}

	events := ledger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(events))
	}
	if events[0].Timestamp != 42 || events[0].Method != types.MethodBadgeRead {
		t.Errorf("unexpected ledger event: %+v", events[0])
	}

	if len(rec.events) != 1 || rec.events[0].Result != "accepted" {
		t.Fatalf("expected one accepted broadcast, got %+v", rec.events)
	}
	if rec.events[0].Timestamp != "42" || rec.events[0].UID != "04A1B2C3" {
		t.Errorf("unexpected live event: %+v", rec.events[0])
	}
}

func TestReconcile_UnknownBadge_Denied(t *testing.T) {
	r, ledger, rec := newTestReconciler(types.UserRecord{UID: "04A1B2C3", Name: "Ada"})

	res, err := r.Reconcile(context.Background(), "FFFFFFFF", types.MethodBadgeRead)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Event.Outcome != types.OutcomeDenied {
		t.Errorf("expected denied, got %q", res.Event.Outcome)
	}
	if res.Event.Name != "(unknown)" {
		t.Errorf("expected unknown sentinel, got %q", res.Event.Name)
	}
	if len(ledger.Events()) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(ledger.Events()))
	}
	if len(rec.events) != 1 || rec.events[0].Result != "denied" {
		t.Errorf("expected one denied broadcast, got %+v", rec.events)
	}
	if len(rec.signals) != 1 || rec.signals[0] != types.OutcomeDenied {
		t.Errorf("expected deny feedback, got %v", rec.signals)
	}
}

// ── Invalid scans ────────────────────────────────────────────────────────────

func TestReconcile_EmptyUID_NoSideEffects(t *testing.T) {
	r, ledger, rec := newTestReconciler()

	_, err := r.Reconcile(context.Background(), "", types.MethodBadgeRead)
	if !errors.Is(err, service.ErrInvalidScan) {
		t.Fatalf("expected ErrInvalidScan, got %v", err)
	}
	if len(ledger.Events()) != 0 {
		t.Error("expected no ledger rows")
	}
	if len(rec.calls) != 0 {
		t.Errorf("expected no feedback or broadcast, got %v", rec.calls)
	}
}

// ── Ledger failure ───────────────────────────────────────────────────────────

func TestReconcile_LedgerFailure_StillBroadcasts(t *testing.T) {
	r, ledger, rec := newTestReconciler(types.UserRecord{UID: "AB", Name: "x"})
	ledger.FailWith(errors.New("disk full"))

	res, err := r.Reconcile(context.Background(), "AB", types.MethodBadgeRead)
	if err != nil {
		t.Fatalf("ledger failure must not abort the pipeline: %v", err)
	}
	if res.Logged {
		t.Error("expected Logged=false")
	}
	if len(rec.events) != 1 {
		t.Errorf("expected broadcast despite ledger failure, got %d", len(rec.events))
	}
	if len(rec.signals) != 1 {
		t.Errorf("expected feedback despite ledger failure, got %d", len(rec.signals))
	}
}

// ── Ordering and feedback ────────────────────────────────────────────────────

func TestReconcile_FeedbackBeforeBroadcast(t *testing.T) {
	r, _, rec := newTestReconciler(types.UserRecord{UID: "AB", Name: "x"})

	_, _ = r.Reconcile(context.Background(), "AB", types.MethodBadgeRead)

	if len(rec.calls) != 2 || rec.calls[0] != "signal" || rec.calls[1] != "publish" {
		t.Errorf("expected [signal publish], got %v", rec.calls)
	}
}

func TestReconcile_ConsoleMethod_NoFeedback(t *testing.T) {
	r, ledger, rec := newTestReconciler(types.UserRecord{UID: "AB", Name: "x"})

	if _, err := r.Reconcile(context.Background(), "AB", types.MethodManagementConsole); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(rec.signals) != 0 {
		t.Errorf("expected no physical feedback, got %v", rec.signals)
	}
	if ev := ledger.Events()[0]; ev.Method != types.MethodManagementConsole {
		t.Errorf("expected method=management-console, got %q", ev.Method)
	}
}

func TestReconcile_EventsInScanOrder(t *testing.T) {
	r, ledger, rec := newTestReconciler(types.UserRecord{UID: "01", Name: "a"})

	uids := []string{"01", "02", "03", "01"}
	for _, u := range uids {
		if _, err := r.Reconcile(context.Background(), u, types.MethodBadgeRead); err != nil {
			t.Fatalf("Reconcile %s: %v", u, err)
		}
	}

	events := ledger.Events()
	for i, u := range uids {
		if events[i].UID != u {
			t.Errorf("ledger row %d: expected %s, got %s", i, u, events[i].UID)
		}
		if rec.events[i].UID != u {
			t.Errorf("broadcast %d: expected %s, got %s", i, u, rec.events[i].UID)
		}
	}
}

// ── CheckIn ──────────────────────────────────────────────────────────────────

func TestCheckIn_NormalizesIdentifier(t *testing.T) {
	r, ledger, _ := newTestReconciler(types.UserRecord{UID: "04A1B2C3", Name: "Ada"})

	res, err := r.CheckIn(context.Background(), types.CheckinRequest{UID: "04:a1:b2:c3"})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if res.Event.Outcome != types.OutcomeAccepted || res.Event.UID != "04A1B2C3" {
		t.Errorf("unexpected event: %+v", res.Event)
	}
	if len(ledger.Events()) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(ledger.Events()))
	}
}

func TestCheckIn_RejectsBadIdentifiers(t *testing.T) {
	r, ledger, _ := newTestReconciler()

	cases := []struct {
		uid  string
		want error
	}{
		{"", service.ErrMissingUID},
		{"   ", service.ErrMissingUID},
		{"ZZ", service.ErrMalformedUID},
		{"ABC", service.ErrMalformedUID},
		{"../etc", service.ErrMalformedUID},
	}
	for _, tc := range cases {
		_, err := r.CheckIn(context.Background(), types.CheckinRequest{UID: tc.uid})
		if !errors.Is(err, tc.want) {
			t.Errorf("CheckIn(%q): expected %v, got %v", tc.uid, tc.want, err)
		}
		if !errors.Is(err, service.ErrValidation) {
			t.Errorf("CheckIn(%q): expected a validation error, got %v", tc.uid, err)
		}
	}
	if len(ledger.Events()) != 0 {
		t.Error("rejected check-ins must not reach the ledger")
	}
}
