package sqlite

import "github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"

var (
	_ store.UserStore = (*UserStore)(nil)
	_ store.Ledger    = (*AttendanceEventStore)(nil)
)
