// Package store persists conversation history, per-user modes and the audit
// log. SQLite (the default), Postgres and an in-memory backend implement the
// same Store interface.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// Store is the persistence layer used by the dispatch pipeline.
type Store interface {
	AppendTurn(ctx context.Context, turn conversation.Turn) error
	History(ctx context.Context, userID, chatID string, limit int) ([]conversation.Turn, error)
	SetSessionMode(ctx context.Context, userID, chatID string, mode conversation.Mode) error
	// PruneIdle removes sessions (and their turns) inactive for longer than idle.
	PruneIdle(ctx context.Context, idle time.Duration) (int, error)

	Mode(ctx context.Context, userID string) (conversation.Mode, error)
	IsHumanMode(ctx context.Context, userID string) (bool, error)
	IsSupportMode(ctx context.Context, userID string) (bool, error)
	SetMode(ctx context.Context, userID string, mode conversation.Mode) error

	Record(ctx context.Context, entry conversation.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]conversation.AuditEntry, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open opens the store for driver. dsn is a file path for SQLite and a
// connection URL for Postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

type moder interface {
	Mode(ctx context.Context, userID string) (conversation.Mode, error)
}

func hasMode(ctx context.Context, s moder, userID string, want conversation.Mode) (bool, error) {
	m, err := s.Mode(ctx, userID)
	if err != nil {
		return false, err
	}
	return m == want, nil
}

func checkMode(mode conversation.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	return nil
}
