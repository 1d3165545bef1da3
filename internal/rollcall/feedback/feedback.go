// Package feedback drives the reader's LED and buzzer.
package feedback

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// Pulse switches the LED on for Light and the buzzer on for Tone, both
// starting together, then stays dark for Gap.
type Pulse struct {
	Light time.Duration
	Tone  time.Duration
	Gap   time.Duration
}

type Pattern []Pulse

var (
	// Accepted is one short chirp.
	Accepted = Pattern{{Light: 120 * time.Millisecond, Tone: 120 * time.Millisecond}}
	// Denied is two lower, clipped beeps.
	Denied = Pattern{
		{Light: 120 * time.Millisecond, Tone: 100 * time.Millisecond, Gap: 80 * time.Millisecond},
		{Light: 120 * time.Millisecond, Tone: 100 * time.Millisecond, Gap: 80 * time.Millisecond},
	}
)

// Duration is the total time the pattern holds the caller.
func (p Pattern) Duration() time.Duration {
	var d time.Duration
	for _, pl := range p {
		d += max(pl.Light, pl.Tone) + pl.Gap
	}
	return d
}

// Output is one on/off line.
type Output interface {
	Set(on bool) error
}

// Nop is an Output wired to nothing.
type Nop struct{}

func (Nop) Set(bool) error { return nil }

// GPIOValue writes "1" or "0" to a sysfs GPIO value file such as
// /sys/class/gpio/gpio17/value.  The pin must already be exported and set
// to output.
type GPIOValue struct {
	path string
}

func NewGPIOValue(path string) *GPIOValue {
	return &GPIOValue{path: path}
}

func (g *GPIOValue) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("gpio %s: %w", g.path, err)
	}
	if _, err := f.Write(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("gpio %s: %w", g.path, err)
	}
	return f.Close()
}

// Player plays accept/deny patterns.  Output errors are logged once per
// pattern and otherwise ignored; feedback never fails a scan.
type Player struct {
	led    Output
	buzzer Output
	logger *slog.Logger
	sleep  func(time.Duration)

	mu sync.Mutex
}

func NewPlayer(led, buzzer Output, logger *slog.Logger) *Player {
	if led == nil {
		led = Nop{}
	}
	if buzzer == nil {
		buzzer = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{led: led, buzzer: buzzer, logger: logger, sleep: time.Sleep}
}

// WithSleep replaces time.Sleep, for tests.
func (p *Player) WithSleep(sleep func(time.Duration)) *Player {
	p.sleep = sleep
	return p
}

// Signal plays the pattern for outcome and returns when it has finished.
func (p *Player) Signal(outcome types.Outcome) {
	pattern := Denied
	if outcome == types.OutcomeAccepted {
		pattern = Accepted
	}
	p.Play(pattern)
}

func (p *Player) Play(pattern Pattern) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	set := func(o Output, on bool) {
		if err := o.Set(on); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, pl := range pattern {
		set(p.led, true)
		set(p.buzzer, true)

		first, last := pl.Tone, pl.Light
		firstOut, lastOut := p.buzzer, p.led
		if pl.Light < pl.Tone {
			first, last = pl.Light, pl.Tone
			firstOut, lastOut = p.led, p.buzzer
		}
		p.sleep(first)
		set(firstOut, false)
		if last > first {
			p.sleep(last - first)
		}
		set(lastOut, false)

		if pl.Gap > 0 {
			p.sleep(pl.Gap)
		}
	}

	if firstErr != nil {
		p.logger.Warn("feedback output failed", "error", firstErr)
	}
}
