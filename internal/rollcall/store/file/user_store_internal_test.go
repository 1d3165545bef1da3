package file

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

func TestUserStore_Upsert_FailureKeepsPriorRecord(t *testing.T) {
	dir := t.TempDir()
	s := NewUserStore(dir)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.UserRecord{UID: "04A1B2C3", Name: "Ada"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	injected := errors.New("disk full")
	s.beforeRename = func(string) error { return injected }

	err := s.Upsert(ctx, types.UserRecord{UID: "04A1B2C3", Name: "Grace"})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	s.beforeRename = nil
	res, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Name != "Ada" {
		t.Errorf("expected prior record to survive, got %+v", res.Records)
	}

	// The temp file must not linger.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after failed upsert, got %d", len(entries))
	}
}
