package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id     TEXT NOT NULL,
	chat_id     TEXT NOT NULL,
	mode        TEXT NOT NULL DEFAULT 'normal',
	last_active INTEGER NOT NULL,
	PRIMARY KEY (user_id, chat_id)
);
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (user_id, chat_id) REFERENCES sessions(user_id, chat_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(user_id, chat_id, created_at);
CREATE TABLE IF NOT EXISTS modes (
	user_id    TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS audit (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	category     TEXT NOT NULL,
	text         TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
`

var openDB = sql.Open

// SQLite is the modernc.org/sqlite backed Store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// One writer; WAL serves concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	slog.Info("store opened", "driver", DriverSQLite, "path", path)
	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) AppendTurn(ctx context.Context, turn conversation.Turn) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (user_id, chat_id, last_active) VALUES (?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET last_active = excluded.last_active`,
		turn.UserID, turn.ChatID, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, user_id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.UserID, turn.ChatID, string(turn.Role), turn.Content, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) History(ctx context.Context, userID, chatID string, limit int) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at, rowid AS seq FROM turns
			WHERE user_id = ? AND chat_id = ?
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			t    conversation.Turn
			role string
			ms   int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &ms); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.UserID, t.ChatID = userID, chatID
		t.Role = conversation.Role(role)
		t.CreatedAt = time.UnixMilli(ms)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLite) SetSessionMode(ctx context.Context, userID, chatID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, chat_id, mode, last_active) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET mode = excluded.mode`,
		userID, chatID, string(mode), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set session mode: %w", err)
	}
	return nil
}

func (s *SQLite) PruneIdle(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := s.now().Add(-idle).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Mode(ctx context.Context, userID string) (conversation.Mode, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM modes WHERE user_id = ?`, userID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.ModeNormal, nil
	}
	if err != nil {
		return "", fmt.Errorf("query mode: %w", err)
	}
	return conversation.Mode(mode), nil
}

func (s *SQLite) IsHumanMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, s, userID, conversation.ModeHuman)
}

func (s *SQLite) IsSupportMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, s, userID, conversation.ModeSupport)
}

func (s *SQLite) SetMode(ctx context.Context, userID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modes (user_id, mode, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at`,
		userID, string(mode), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

func (s *SQLite) Record(ctx context.Context, e conversation.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (category, text, user_id, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Category, e.Text, e.UserID, e.DisplayName, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries first.
func (s *SQLite) RecentAudit(ctx context.Context, limit int) ([]conversation.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, text, user_id, display_name, created_at
		FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []conversation.AuditEntry
	for rows.Next() {
		var (
			e  conversation.AuditEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Category, &e.Text, &e.UserID, &e.DisplayName, &ms); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}
