package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// UserStore is an in-memory user directory. It is intended for use in tests
// and dev environments.
type UserStore struct {
	mu      sync.RWMutex
	users   map[string]string
	corrupt []store.CorruptRecord
	failErr error
}

func NewUserStore(seed ...types.UserRecord) *UserStore {
	s := &UserStore{users: make(map[string]string, len(seed))}
	for _, r := range seed {
		s.users[r.UID] = r.Name
	}
	return s
}

// FailWith makes every subsequent LoadAll and Upsert return err. Pass nil
// to clear.
func (s *UserStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// AddCorrupt registers a record LoadAll will report as corrupt.
func (s *UserStore) AddCorrupt(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = append(s.corrupt, store.CorruptRecord{Key: key, Err: err})
}

func (s *UserStore) LoadAll(_ context.Context) (store.LoadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return store.LoadResult{}, s.failErr
	}

	res := store.LoadResult{
		Records: make([]types.UserRecord, 0, len(s.users)),
		Corrupt: append([]store.CorruptRecord(nil), s.corrupt...),
	}
	for uid, name := range s.users {
		res.Records = append(res.Records, types.UserRecord{UID: uid, Name: name})
	}
	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].UID < res.Records[j].UID })
	return res, nil
}

func (s *UserStore) Upsert(_ context.Context, rec types.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.users[rec.UID] = rec.Name
	return nil
}

// Get returns the stored name. Test-only helper.
func (s *UserStore) Get(uid string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.users[uid]
	return name, ok
}
