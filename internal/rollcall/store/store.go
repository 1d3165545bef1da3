package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// ErrCorruptRecord marks a stored user record that could not be parsed.
var ErrCorruptRecord = errors.New("corrupt user record")

// CorruptRecord names a record that LoadAll skipped.
type CorruptRecord struct {
	Key string
	Err error
}

type LoadResult struct {
	Records []types.UserRecord
	Corrupt []CorruptRecord
}

// UserStore persists one record per identifier.
//
// LoadAll only returns an error when the store as a whole cannot be read;
// individual unparseable records are reported in LoadResult.Corrupt.
// Upsert must be atomic: on error the prior record is left untouched.
type UserStore interface {
	LoadAll(ctx context.Context) (LoadResult, error)
	Upsert(ctx context.Context, rec types.UserRecord) error
}

// Ledger is an append-only attendance log.
type Ledger interface {
	EnsureInitialized(ctx context.Context) error
	Append(ctx context.Context, ev types.AttendanceEvent) error
}
