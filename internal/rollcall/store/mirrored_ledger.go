package store

import (
	"context"
	"log/slog"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// MirroredLedger appends to a primary ledger and then to zero or more
// mirrors. Only the primary result is returned; mirror failures are logged.
type MirroredLedger struct {
	primary Ledger
	mirrors []Ledger
	logger  *slog.Logger
}

func NewMirroredLedger(logger *slog.Logger, primary Ledger, mirrors ...Ledger) *MirroredLedger {
	return &MirroredLedger{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *MirroredLedger) EnsureInitialized(ctx context.Context) error {
	err := m.primary.EnsureInitialized(ctx)
	for _, l := range m.mirrors {
		if merr := l.EnsureInitialized(ctx); merr != nil {
			m.logger.Warn("ledger mirror init failed", "error", merr)
		}
	}
	return err
}

func (m *MirroredLedger) Append(ctx context.Context, ev types.AttendanceEvent) error {
	err := m.primary.Append(ctx, ev)
	for _, l := range m.mirrors {
		if merr := l.Append(ctx, ev); merr != nil {
			m.logger.Warn("ledger mirror append failed", "uid", ev.UID, "error", merr)
		}
	}
	return err
}
