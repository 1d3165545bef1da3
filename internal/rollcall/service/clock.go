package service

import "time"

// Clock yields attendance timestamps.
type Clock interface {
	Seconds() uint64
}

// BootClock counts whole seconds since the process started.  Timestamps are
// monotonic within a boot and restart at zero on the next one.
type BootClock struct {
	start time.Time
	since func(time.Time) time.Duration
}

func NewBootClock() *BootClock {
	return &BootClock{start: time.Now(), since: time.Since}
}

func (c *BootClock) Seconds() uint64 {
	d := c.since(c.start)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// Uptime returns the elapsed time since the clock was created.
func (c *BootClock) Uptime() time.Duration {
	return c.since(c.start)
}
