package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Rollcall/internal/config"
	"github.com/BrandonDHaskell/Rollcall/internal/db"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store/file"
	sqlitestore "github.com/BrandonDHaskell/Rollcall/internal/rollcall/store/sqlite"
)

// stores bundles the configured persistence backends.
type stores struct {
	users      store.UserStore
	ledger     store.Ledger
	ledgerPath string

	conn   *sql.DB
	writer *db.Worker
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, bootID uuid.UUID) (*stores, error) {
	s := &stores{ledgerPath: cfg.LedgerPath}

	if cfg.UsesSQLite() {
		conn, err := db.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		s.conn = conn
		s.writer = db.NewWorker(conn)
	}

	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s.users = sqlitestore.NewUserStore(s.conn, s.writer)
	default:
		s.users = file.NewUserStore(cfg.UsersDir)
	}

	primary := file.NewLedger(cfg.LedgerPath)
	var mirrors []store.Ledger
	if cfg.LedgerMirrorPath != "" {
		mirrors = append(mirrors, file.NewLedger(cfg.LedgerMirrorPath))
	}
	if cfg.SQLiteMirror {
		mirrors = append(mirrors, sqlitestore.NewAttendanceEventStore(s.conn, s.writer, bootID))
	}
	if len(mirrors) > 0 {
		s.ledger = store.NewMirroredLedger(logger, primary, mirrors...)
	} else {
		s.ledger = primary
	}

	return s, nil
}

func (s *stores) Close() {
	if s.writer != nil {
		s.writer.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
