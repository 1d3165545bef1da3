package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	dbpkg "github.com/BrandonDHaskell/Rollcall/internal/db"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/codec"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

type UserStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	now    func() time.Time
}

func NewUserStore(db *sql.DB, writer *dbpkg.Worker) *UserStore {
	return &UserStore{db: db, writer: writer, now: time.Now}
}

// LoadAll reads every row of users.  Rows that cannot be turned into a
// usable record are reported in Corrupt instead of failing the whole load.
func (s *UserStore) LoadAll(ctx context.Context) (store.LoadResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, name FROM users ORDER BY uid;`)
	if err != nil {
		return store.LoadResult{}, fmt.Errorf("LoadAll query: %w", err)
	}
	defer rows.Close()

	var res store.LoadResult
	for rows.Next() {
		var uid, name string
		if err := rows.Scan(&uid, &name); err != nil {
			return store.LoadResult{}, fmt.Errorf("LoadAll scan: %w", err)
		}
		switch {
		case strings.TrimSpace(uid) == "":
			res.Corrupt = append(res.Corrupt, store.CorruptRecord{
				Key: uid,
				Err: fmt.Errorf("%w: empty uid", store.ErrCorruptRecord),
			})
		case !utf8.ValidString(uid) || !utf8.ValidString(name):
			res.Corrupt = append(res.Corrupt, store.CorruptRecord{
				Key: uid,
				Err: fmt.Errorf("%w: invalid utf-8", store.ErrCorruptRecord),
			})
		default:
			canon, err := codec.Normalize(uid)
			if err != nil {
				res.Corrupt = append(res.Corrupt, store.CorruptRecord{
					Key: uid,
					Err: fmt.Errorf("%w: uid is not hexadecimal", store.ErrCorruptRecord),
				})
				continue
			}
			res.Records = append(res.Records, types.UserRecord{UID: canon, Name: name})
		}
	}
	if err := rows.Err(); err != nil {
		return store.LoadResult{}, fmt.Errorf("LoadAll rows: %w", err)
	}
	return res, nil
}

// Upsert inserts or replaces the name for rec.UID in a single transaction.
func (s *UserStore) Upsert(ctx context.Context, rec types.UserRecord) error {
	if rec.UID == "" {
		return fmt.Errorf("Upsert: empty uid")
	}
	ms := s.now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users(uid, name, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(uid) DO UPDATE SET
  name          = excluded.name,
  updated_at_ms = excluded.updated_at_ms;
`, rec.UID, rec.Name, ms, ms); err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
		return nil
	})
}
