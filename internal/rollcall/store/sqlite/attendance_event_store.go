package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	dbpkg "github.com/BrandonDHaskell/Rollcall/internal/db"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

var ErrInvalidOutcome = errors.New("invalid attendance outcome")

// AttendanceEventStore mirrors ledger rows into attendance_events.  Event
// timestamps restart at zero on every boot, so each row carries the boot ID
// of the process that wrote it.
type AttendanceEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	bootID uuid.UUID
}

func NewAttendanceEventStore(db *sql.DB, writer *dbpkg.Worker, bootID uuid.UUID) *AttendanceEventStore {
	return &AttendanceEventStore{db: db, writer: writer, bootID: bootID}
}

// EnsureInitialized is a no-op; the table is created by migrations.
func (s *AttendanceEventStore) EnsureInitialized(context.Context) error { return nil }

// Append writes ev as one row.  Events without an outcome are refused
// rather than guessed at.
func (s *AttendanceEventStore) Append(ctx context.Context, ev types.AttendanceEvent) error {
	switch ev.Outcome {
	case types.OutcomeAccepted, types.OutcomeDenied:
	default:
		return fmt.Errorf("Append attendance_event: %w: %q", ErrInvalidOutcome, ev.Outcome)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO attendance_events(boot_id, uptime_s, uid, name, method, outcome)
VALUES (?, ?, ?, ?, ?, ?);
`, s.bootID.String(), int64(ev.Timestamp), ev.UID, ev.Name, string(ev.Method), string(ev.Outcome)); err != nil {
			return fmt.Errorf("Append attendance_event: %w", err)
		}
		return nil
	})
}

// CountByUID returns how many mirrored events exist for uid across all boots.
func (s *AttendanceEventStore) CountByUID(ctx context.Context, uid string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_events WHERE uid = ?;`, uid,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountByUID: %w", err)
	}
	return n, nil
}
