package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// Postgres is the pgx backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to pgURL and creates the schema.
func OpenPostgres(ctx context.Context, pgURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Postgres{pool: pool, now: time.Now}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("store opened", "driver", DriverPostgres)
	return s, nil
}

func (s *Postgres) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			user_id     TEXT NOT NULL,
			chat_id     TEXT NOT NULL,
			mode        TEXT NOT NULL DEFAULT 'normal',
			last_active TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			user_id    TEXT NOT NULL,
			chat_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (user_id, chat_id) REFERENCES sessions(user_id, chat_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(user_id, chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS modes (
			user_id    TEXT PRIMARY KEY,
			mode       TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit (
			id           BIGSERIAL PRIMARY KEY,
			category     TEXT NOT NULL,
			text         TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) AppendTurn(ctx context.Context, turn conversation.Turn) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (user_id, chat_id, last_active) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET last_active = EXCLUDED.last_active`,
		turn.UserID, turn.ChatID, created)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO turns (id, user_id, chat_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.UserID, turn.ChatID, string(turn.Role), turn.Content, created)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) History(ctx context.Context, userID, chatID string, limit int) ([]conversation.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at, seq FROM turns
			WHERE user_id = $1 AND chat_id = $2
			ORDER BY created_at DESC, seq DESC LIMIT $3
		) recent ORDER BY created_at ASC, seq ASC`, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			t    conversation.Turn
			role string
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.UserID, t.ChatID = userID, chatID
		t.Role = conversation.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Postgres) SetSessionMode(ctx context.Context, userID, chatID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (user_id, chat_id, mode, last_active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET mode = EXCLUDED.mode`,
		userID, chatID, string(mode), s.now())
	if err != nil {
		return fmt.Errorf("set session mode: %w", err)
	}
	return nil
}

func (s *Postgres) PruneIdle(ctx context.Context, idle time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE last_active < $1`, s.now().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) Mode(ctx context.Context, userID string) (conversation.Mode, error) {
	var mode string
	err := s.pool.QueryRow(ctx, `SELECT mode FROM modes WHERE user_id = $1`, userID).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.ModeNormal, nil
	}
	if err != nil {
		return "", fmt.Errorf("query mode: %w", err)
	}
	return conversation.Mode(mode), nil
}

func (s *Postgres) IsHumanMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, s, userID, conversation.ModeHuman)
}

func (s *Postgres) IsSupportMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, s, userID, conversation.ModeSupport)
}

func (s *Postgres) SetMode(ctx context.Context, userID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO modes (user_id, mode, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET mode = EXCLUDED.mode, updated_at = now()`,
		userID, string(mode))
	if err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

func (s *Postgres) Record(ctx context.Context, e conversation.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit (category, text, user_id, display_name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.Category, e.Text, e.UserID, e.DisplayName, created)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries first.
func (s *Postgres) RecentAudit(ctx context.Context, limit int) ([]conversation.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, text, user_id, display_name, created_at
		FROM audit ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []conversation.AuditEntry
	for rows.Next() {
		var e conversation.AuditEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.Text, &e.UserID, &e.DisplayName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
