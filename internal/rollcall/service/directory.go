package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// Directory is the in-memory projection of the user store that the
// reconciler consults on every scan.  Writers replace whole entries under
// the lock, so a reader never sees a half-applied upsert.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

func (d *Directory) Lookup(uid string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[uid]
	return name, ok
}

func (d *Directory) Put(rec types.UserRecord) {
	d.mu.Lock()
	d.names[rec.UID] = rec.Name
	d.mu.Unlock()
}

// Replace swaps the whole cache for recs.
func (d *Directory) Replace(recs []types.UserRecord) {
	names := make(map[string]string, len(recs))
	for _, r := range recs {
		names[r.UID] = r.Name
	}
	d.mu.Lock()
	d.names = names
	d.mu.Unlock()
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// Snapshot returns a copy of the cache sorted by uid.
func (d *Directory) Snapshot() []types.UserRecord {
	d.mu.RLock()
	out := make([]types.UserRecord, 0, len(d.names))
	for uid, name := range d.names {
		out = append(out, types.UserRecord{UID: uid, Name: name})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Load rebuilds the cache from st.  Corrupt records are logged and skipped;
// only a store that cannot be read at all returns an error.
func (d *Directory) Load(ctx context.Context, st store.UserStore, logger *slog.Logger) (int, error) {
	res, err := st.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("Load: %w", err)
	}
	for _, c := range res.Corrupt {
		logger.Warn("skipping corrupt user record", "key", c.Key, "error", c.Err)
	}
	d.Replace(res.Records)
	return len(res.Records), nil
}
