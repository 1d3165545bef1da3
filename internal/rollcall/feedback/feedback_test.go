package feedback_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/feedback"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// line records every state change along with the virtual time it happened.
type line struct {
	clock *time.Duration
	edges []edge
	err   error
}

type edge struct {
	at time.Duration
	on bool
}

func (l *line) Set(on bool) error {
	l.edges = append(l.edges, edge{at: *l.clock, on: on})
	return l.err
}

func newTestPlayer() (*feedback.Player, *line, *line, *time.Duration) {
	var now time.Duration
	led := &line{clock: &now}
	buzzer := &line{clock: &now}
	p := feedback.NewPlayer(led, buzzer, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithSleep(func(d time.Duration) { now += d })
	return p, led, buzzer, &now
}

func TestSignal_Accepted_OnePulse(t *testing.T) {
	p, led, buzzer, now := newTestPlayer()
	p.Signal(types.OutcomeAccepted)

	if len(led.edges) != 2 || len(buzzer.edges) != 2 {
		t.Fatalf("expected one on/off pair per output, got led=%v buzzer=%v", led.edges, buzzer.edges)
	}
	if led.edges[1].at != 120*time.Millisecond {
		t.Errorf("expected LED off at 120ms, got %v", led.edges[1].at)
	}
	if *now != feedback.Accepted.Duration() {
		t.Errorf("expected total %v, got %v", feedback.Accepted.Duration(), *now)
	}
}

func TestSignal_Denied_TwoPulses(t *testing.T) {
	p, led, buzzer, now := newTestPlayer()
	p.Signal(types.OutcomeDenied)

	if len(led.edges) != 4 {
		t.Fatalf("expected two LED pulses, got %v", led.edges)
	}
	// Buzzer clips before the light goes out.
	if buzzer.edges[1].at != 100*time.Millisecond || led.edges[1].at != 120*time.Millisecond {
		t.Errorf("unexpected first pulse timing: buzzer=%v led=%v", buzzer.edges[1].at, led.edges[1].at)
	}
	// Second pulse starts after the 80ms gap.
	if led.edges[2].at != 200*time.Millisecond || !led.edges[2].on {
		t.Errorf("expected second pulse at 200ms, got %+v", led.edges[2])
	}
	if *now != 400*time.Millisecond {
		t.Errorf("expected 400ms total, got %v", *now)
	}
}

func TestSignal_OutputErrorsIgnored(t *testing.T) {
	p, led, _, _ := newTestPlayer()
	led.err = errors.New("gpio busy")

	p.Signal(types.OutcomeAccepted) // must not panic or block
	if led.edges[len(led.edges)-1].on {
		t.Error("expected the player to still attempt switching the LED off")
	}
}

func TestGPIOValue_WritesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := feedback.NewGPIOValue(path)

	if err := g.Set(true); err != nil {
		t.Fatalf("Set(true): %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "1" {
		t.Errorf("expected 1, got %q", b)
	}
	if err := g.Set(false); err != nil {
		t.Fatalf("Set(false): %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "0" {
		t.Errorf("expected 0, got %q", b)
	}
}

func TestGPIOValue_MissingPin(t *testing.T) {
	g := feedback.NewGPIOValue(filepath.Join(t.TempDir(), "nope", "value"))
	if err := g.Set(true); err == nil {
		t.Fatal("expected error for missing pin")
	}
}
