package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "assignbot/pkg/logx"
)

// sqlStore backs both SQLite and PostgreSQL. Queries are written with "?"
// placeholders and rebound for the active driver.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type migration struct {
	version int
	stmts   []string
}

// migrations stay in a dialect both SQLite and PostgreSQL accept.
var migrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS error_log (
			id       TEXT PRIMARY KEY,
			at_ms    BIGINT NOT NULL,
			category TEXT NOT NULL,
			message  TEXT NOT NULL,
			doctype  TEXT,
			doc_name TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_at ON error_log(at_ms)`,
		`CREATE TABLE IF NOT EXISTS user_links (
			email        TEXT PRIMARY KEY,
			chat_id      TEXT NOT NULL,
			username     TEXT,
			linked_at_ms BIGINT NOT NULL
		)`,
	}},
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	return newSQLStore(db, log)
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}
	return newSQLStore(db, log)
}

func newSQLStore(db *sqlx.DB, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// migrate applies outstanding migrations recorded in schema_version.
func (s *sqlStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}
	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version(version) VALUES(?)`), m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type errorRow struct {
	ID       string         `db:"id"`
	AtMS     int64          `db:"at_ms"`
	Category string         `db:"category"`
	Message  string         `db:"message"`
	Doctype  sql.NullString `db:"doctype"`
	DocName  sql.NullString `db:"doc_name"`
}

func (s *sqlStore) AppendError(ctx context.Context, e ErrorEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	e = prepareEntry(e)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO error_log(id, at_ms, category, message, doctype, doc_name) VALUES(?,?,?,?,?,?)`),
		e.ID, e.At.UnixMilli(), e.Category, e.Message, nullStr(e.Doctype), nullStr(e.DocName),
	)
	return err
}

func (s *sqlStore) ListErrors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []errorRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, at_ms, category, message, doctype, doc_name FROM error_log ORDER BY at_ms DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	out := make([]ErrorEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ErrorEntry{
			ID:       r.ID,
			At:       time.UnixMilli(r.AtMS),
			Category: r.Category,
			Message:  r.Message,
			Doctype:  r.Doctype.String,
			DocName:  r.DocName.String,
		})
	}
	return out, nil
}

func (s *sqlStore) PruneErrors(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM error_log WHERE at_ms < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type linkRow struct {
	Email    string         `db:"email"`
	ChatID   string         `db:"chat_id"`
	Username sql.NullString `db:"username"`
	AtMS     int64          `db:"linked_at_ms"`
}

func (s *sqlStore) PutLink(ctx context.Context, l UserLink) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	l, err := prepareLink(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO user_links(email, chat_id, username, linked_at_ms) VALUES(?,?,?,?)
		 ON CONFLICT(email) DO UPDATE SET chat_id=excluded.chat_id, username=excluded.username, linked_at_ms=excluded.linked_at_ms`),
		l.Email, l.ChatID, nullStr(l.Username), l.At.UnixMilli(),
	)
	return err
}

// ClaimLink relies on the conflict clause for atomicity: a row owned by
// another chat is left untouched, and the re-read reports who holds it.
func (s *sqlStore) ClaimLink(ctx context.Context, l UserLink) (UserLink, bool, error) {
	if s == nil || s.db == nil {
		return UserLink{}, false, ErrDisabled
	}
	l, err := prepareLink(l)
	if err != nil {
		return UserLink{}, false, err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO user_links(email, chat_id, username, linked_at_ms) VALUES(?,?,?,?)
		 ON CONFLICT(email) DO UPDATE SET username=excluded.username, linked_at_ms=excluded.linked_at_ms
		 WHERE user_links.chat_id = excluded.chat_id`),
		l.Email, l.ChatID, nullStr(l.Username), l.At.UnixMilli(),
	)
	if err != nil {
		return UserLink{}, false, err
	}
	cur, ok, err := s.GetLink(ctx, l.Email)
	if err != nil {
		return UserLink{}, false, err
	}
	if !ok {
		return UserLink{}, false, errors.New("link vanished after claim")
	}
	return cur, cur.ChatID == l.ChatID, nil
}

func (s *sqlStore) GetLink(ctx context.Context, email string) (UserLink, bool, error) {
	if s == nil || s.db == nil {
		return UserLink{}, false, ErrDisabled
	}
	key := NormalizeEmail(email)
	if key == "" {
		return UserLink{}, false, nil
	}
	var r linkRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(
		`SELECT email, chat_id, username, linked_at_ms FROM user_links WHERE email = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return UserLink{}, false, nil
	}
	if err != nil {
		return UserLink{}, false, err
	}
	return UserLink{Email: r.Email, ChatID: r.ChatID, Username: r.Username.String, At: time.UnixMilli(r.AtMS)}, true, nil
}

func (s *sqlStore) DeleteLink(ctx context.Context, email string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_links WHERE email = ?`), NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
