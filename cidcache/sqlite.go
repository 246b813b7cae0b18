package cidcache

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore holds a single handle; SQLite handles must not be shared by
// concurrent callers, so serving workers each open their own store (see Pool).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var db *sql.DB
	var err error
	if db, err = sql.Open("sqlite3", path); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, err
	} else if _, err = db.Exec("PRAGMA temp_store=MEMORY;"); err != nil {
		return nil, err
	} else if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS cid_tokens(
		cid TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		token_level INTEGER,
		token_number INTEGER
	)`); err != nil {
		return nil, err
	} else if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_token_level_number
		ON cid_tokens(token_level, token_number)`); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutBatch(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO cid_tokens(cid, content, token_level, token_number)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(cid) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Cid, e.Content, e.Level, e.Number); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, cid string) (*Entry, error) {
	entry := &Entry{Cid: cid}
	err := s.db.QueryRowContext(ctx, `
		SELECT content, token_level, token_number
		FROM cid_tokens
		WHERE cid = ?`, cid,
	).Scan(&entry.Content, &entry.Level, &entry.Number)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, cids []string) (map[string]*Entry, error) {
	results := make(map[string]*Entry, len(cids))
	if len(cids) == 0 {
		return results, nil
	}
	query := `SELECT cid, content, token_level, token_number
		FROM cid_tokens
		WHERE cid IN (` + placeholders(len(cids)) + ")"
	args := make([]interface{}, len(cids))
	for i, cid := range cids {
		args[i] = cid
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(&entry.Cid, &entry.Content, &entry.Level, &entry.Number); err != nil {
			return nil, err
		}
		results[entry.Cid] = entry
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cid_tokens`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(",?", n-1)
}

var _ Store = (*SQLiteStore)(nil)
