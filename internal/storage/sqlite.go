package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pushstream/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	loc *time.Location
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	st := &sqliteStore{db: db, log: log, loc: loc, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadWatermark(ctx context.Context) (float64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var ts float64
	err := s.db.QueryRowContext(ctx, `SELECT ts FROM watermark WHERE id = 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// SaveWatermark never moves the stored value backwards.
func (s *sqliteStore) SaveWatermark(ctx context.Context, ts float64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermark(id, ts, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ts = max(ts, excluded.ts), updated_at = excluded.updated_at`,
		ts, s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendLedger(ctx context.Context, e LedgerEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger(created, event_id, content, source, line, logged_at) VALUES(?,?,?,?,?,?)`,
		e.Timestamp, nullStr(e.EventID), e.Content, nullStr(e.Source), e.Line(s.loc),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ledgerLines returns the most recent n ledger lines, oldest first.
func (s *sqliteStore) ledgerLines(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM (SELECT seq, line FROM ledger ORDER BY seq DESC LIMIT ?) ORDER BY seq`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
