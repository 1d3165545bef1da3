package service_test

import (
	"testing"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
)

func TestBootClock_StartsNearZero(t *testing.T) {
	c := service.NewBootClock()
	if s := c.Seconds(); s > 1 {
		t.Errorf("expected ~0 seconds since boot, got %d", s)
	}
	if c.Uptime() < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestBootClock_Monotonic(t *testing.T) {
	c := service.NewBootClock()
	prev := c.Seconds()
	for i := 0; i < 100; i++ {
		s := c.Seconds()
		if s < prev {
			t.Fatalf("clock went backwards: %d < %d", s, prev)
		}
		prev = s
	}
}
