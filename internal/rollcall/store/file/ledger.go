package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// BOM is written once at the start of the ledger so spreadsheet tools
// detect UTF-8.
var BOM = []byte{0xEF, 0xBB, 0xBF}

const (
	LedgerHeader = "timestamp,uid,name,method"
	rowEnd       = "\r\n"
)

// Ledger is the append-only CSV attendance log. It never seeks, truncates
// or rewrites: the file is only ever created once and then appended to.
type Ledger struct {
	path string

	mu          sync.Mutex
	initialized bool
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

func (l *Ledger) EnsureInitialized(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureLocked()
}

func (l *Ledger) ensureLocked() error {
	if l.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("EnsureInitialized mkdir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return l.adoptExisting()
	}
	if err != nil {
		return fmt.Errorf("EnsureInitialized create: %w", err)
	}

	if err := writeHeader(f); err != nil {
		// The file is ours and headerless; drop it so the next attempt
		// starts clean instead of appending rows under a missing header.
		_ = os.Remove(l.path)
		return fmt.Errorf("EnsureInitialized write header: %w", err)
	}

	l.initialized = true
	return nil
}

// adoptExisting accepts a ledger left by an earlier run.  A zero-byte file
// means that run died between create and header write, so the header is
// appended now.
func (l *Ledger) adoptExisting() error {
	fi, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("EnsureInitialized stat: %w", err)
	}
	if fi.Size() == 0 {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return fmt.Errorf("EnsureInitialized open: %w", err)
		}
		if err := writeHeader(f); err != nil {
			return fmt.Errorf("EnsureInitialized write header: %w", err)
		}
	}
	l.initialized = true
	return nil
}

// writeHeader writes the BOM and header row in one call, syncs and closes f.
func writeHeader(f *os.File) error {
	head := make([]byte, 0, len(BOM)+len(LedgerHeader)+len(rowEnd))
	head = append(head, BOM...)
	head = append(head, LedgerHeader+rowEnd...)

	_, werr := f.Write(head)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	return werr
}

// Append writes ev as one quoted CSV row in a single write call.
func (l *Ledger) Append(_ context.Context, ev types.AttendanceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLocked(); err != nil {
		return err
	}

	// No O_CREATE: if the ledger vanished underneath us, fail rather than
	// start a headerless file.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("Append open: %w", err)
	}

	_, werr := f.Write([]byte(FormatRow(ev)))
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("Append write: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("Append close: %w", cerr)
	}
	return nil
}

// FormatRow renders ev with every field quoted and inner quotes doubled.
func FormatRow(ev types.AttendanceEvent) string {
	var b strings.Builder
	fields := [...]string{
		strconv.FormatUint(ev.Timestamp, 10),
		ev.UID,
		ev.Name,
		string(ev.Method),
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quote(f))
	}
	b.WriteString(rowEnd)
	return b.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
