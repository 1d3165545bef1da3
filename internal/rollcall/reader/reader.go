// Package reader is the boundary to the badge reader peripheral.
package reader

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/codec"
)

// Reader reports a newly presented card.  Poll never blocks: ok is false
// when no card arrived since the last call.
type Reader interface {
	Poll() (raw []byte, ok bool)
}

// Nop never sees a card.
type Nop struct{}

func (Nop) Poll() ([]byte, bool) { return nil, false }

// LineReader reads one hex identifier per line, the way USB keyboard-wedge
// and serial RFID readers emit them.  Lines are parsed on a background
// goroutine and handed to Poll through a small buffer; malformed lines are
// logged and dropped.
type LineReader struct {
	src    io.Reader
	logger *slog.Logger
	scans  chan []byte

	mu  sync.Mutex
	err error
}

func NewLineReader(src io.Reader, logger *slog.Logger) *LineReader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &LineReader{
		src:    src,
		logger: logger,
		scans:  make(chan []byte, 16),
	}
	go r.run()
	return r
}

// Open returns a LineReader for device: "-" reads stdin, anything else is
// opened as a file (e.g. /dev/ttyUSB0 or /dev/hidraw0).
func Open(device string, logger *slog.Logger) (*LineReader, error) {
	if device == "-" {
		return NewLineReader(os.Stdin, logger), nil
	}
	f, err := os.Open(device)
	if err != nil {
		return nil, err
	}
	return NewLineReader(f, logger), nil
}

func (r *LineReader) Poll() ([]byte, bool) {
	select {
	case raw, ok := <-r.scans:
		return raw, ok
	default:
		return nil, false
	}
}

// Err returns the error that stopped the reader, or nil while it runs or
// after a clean EOF.
func (r *LineReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the source if it is an io.Closer.
func (r *LineReader) Close() error {
	if c, ok := r.src.(io.Closer); ok && r.src != os.Stdin {
		return c.Close()
	}
	return nil
}

func (r *LineReader) run() {
	defer close(r.scans)

	sc := bufio.NewScanner(r.src)
	for sc.Scan() {
		raw, err := codec.ParseHex(sc.Text())
		if err != nil {
			r.logger.Warn("discarding unreadable scan", "line", sc.Text(), "error", err)
			continue
		}
		r.scans <- raw
	}

	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.logger.Error("badge reader stopped", "error", err)
		return
	}
	r.logger.Info("badge reader reached end of input")
}
