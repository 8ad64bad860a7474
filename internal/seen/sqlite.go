package seen

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createSeenTable = `
CREATE TABLE IF NOT EXISTS seen (
	medium TEXT NOT NULL,
	guid TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (medium, guid)
)`

// SQLite keeps seen guids in a local file for single-host deployments.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createSeenTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create seen table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_seen_expires ON seen(expires_at)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create seen index: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Seen(ctx context.Context, medium, guid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen WHERE medium = ? AND guid = ? AND expires_at > ?`,
		medium, guid, s.now().UnixNano(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

func (s *SQLite) Mark(ctx context.Context, medium, guid string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO seen (medium, guid, expires_at) VALUES (?, ?, ?)
ON CONFLICT (medium, guid) DO UPDATE SET expires_at = excluded.expires_at`,
		medium, guid, s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// Prune deletes expired rows and reports how many were removed.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune seen: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
