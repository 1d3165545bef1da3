package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/codec"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

const userFileExt = ".json"

// UserStore keeps one JSON file per identifier under dir.
type UserStore struct {
	dir string

	// beforeRename runs after the temp file is durable and before it
	// replaces the target. Tests use it to simulate a failed write.
	beforeRename func(tmpPath string) error
}

func NewUserStore(dir string) *UserStore {
	return &UserStore{dir: dir}
}

func (s *UserStore) Dir() string { return s.dir }

func (s *UserStore) path(uid string) string {
	return filepath.Join(s.dir, uid+userFileExt)
}

func (s *UserStore) LoadAll(ctx context.Context) (store.LoadResult, error) {
	var res store.LoadResult

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("LoadAll read dir: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, userFileExt) {
			continue
		}

		rec, err := readUserFile(filepath.Join(s.dir, name))
		if err != nil {
			res.Corrupt = append(res.Corrupt, store.CorruptRecord{Key: name, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func readUserFile(path string) (types.UserRecord, error) {
	var rec types.UserRecord

	b, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", store.ErrCorruptRecord, err)
	}
	if !utf8.Valid(b) {
		return rec, fmt.Errorf("%w: invalid UTF-8", store.ErrCorruptRecord)
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", store.ErrCorruptRecord, err)
	}
	if rec.UID == "" {
		return rec, fmt.Errorf("%w: missing uid", store.ErrCorruptRecord)
	}

	// Hand-provisioned files may use lowercase or separators; the cache is
	// keyed by the form a scan produces.
	uid, err := codec.Normalize(rec.UID)
	if err != nil {
		return rec, fmt.Errorf("%w: uid %q is not hexadecimal", store.ErrCorruptRecord, rec.UID)
	}
	stem, err := codec.Normalize(strings.TrimSuffix(filepath.Base(path), userFileExt))
	if err != nil || stem != uid {
		return rec, fmt.Errorf("%w: uid %q does not match file name", store.ErrCorruptRecord, rec.UID)
	}
	rec.UID = uid
	return rec, nil
}

// Upsert writes rec to a temp file in the same directory and renames it
// over <UID>.json, so readers see either the old or the new record.
func (s *UserStore) Upsert(_ context.Context, rec types.UserRecord) error {
	if rec.UID == "" || strings.ContainsAny(rec.UID, `/\.`) {
		return fmt.Errorf("Upsert: invalid uid %q", rec.UID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Upsert marshal: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("Upsert mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+rec.UID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("Upsert create temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Upsert write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Upsert sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Upsert close: %w", err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
	}

	if err := os.Rename(tmpPath, s.path(rec.UID)); err != nil {
		return fmt.Errorf("Upsert rename: %w", err)
	}
	committed = true

	syncDir(s.dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not every
// filesystem supports fsync on directories, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
