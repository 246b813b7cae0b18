// Package ledger reads and updates per-node token records. The ledger
// database is owned by the node software; this package touches only the cid
// key and the token_status column.
package ledger

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps one node's ledger database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	var db *sql.DB
	var err error
	if db, err = sql.Open("sqlite3", path); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, err
	} else if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS TokensTable(
		token_id TEXT PRIMARY KEY,
		token_status INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// PendingCids returns the CIDs of every token still awaiting validation.
func (s *Store) PendingCids(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_id FROM TokensTable WHERE token_status = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		cids = append(cids, strings.TrimSpace(cid))
	}
	return cids, rows.Err()
}

// SetStatus updates one token's status.
func (s *Store) SetStatus(ctx context.Context, cid string, status int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE TokensTable SET token_status = ? WHERE token_id = ?`, status, cid)
	return err
}

// Status reads one token's status; used by tests and operator inspection.
func (s *Store) Status(ctx context.Context, cid string) (int, error) {
	var status int
	err := s.db.QueryRowContext(ctx,
		`SELECT token_status FROM TokensTable WHERE token_id = ?`, cid).Scan(&status)
	return status, err
}

// Insert adds a pending token record.
func (s *Store) Insert(ctx context.Context, cid string, status int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO TokensTable(token_id, token_status)
		VALUES(?, ?)
		ON CONFLICT(token_id) DO NOTHING`, cid, status)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
