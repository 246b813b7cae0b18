package hashindex

import (
	"database/sql"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/b-open-io/token-index/token"
)

// SQLiteStore persists the index in the legacy token_hashes schema, so
// databases remain interchangeable with older tooling. The legacy table also
// carries nullable cid/content columns; WithCIDs populates them from the
// locally derived CIDv0.
type SQLiteStore struct {
	db       *sql.DB
	lookup   *sql.Stmt
	withCIDs bool
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	s := &SQLiteStore{}
	var err error
	if s.db, err = sql.Open("sqlite3", path); err != nil {
		return nil, err
	} else if _, err = s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	} else if _, err = s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return nil, err
	} else if _, err = s.db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, err
	} else if _, err = s.db.Exec("PRAGMA temp_store=MEMORY;"); err != nil {
		return nil, err
	} else if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS token_hashes(
		hash TEXT PRIMARY KEY,
		token_level INTEGER NOT NULL,
		token_number INTEGER NOT NULL,
		cid TEXT,
		content TEXT
	)`); err != nil {
		return nil, err
	} else if _, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_token_level_number
		ON token_hashes(token_level, token_number)`); err != nil {
		return nil, err
	} else if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS build_checkpoints(
		token_level INTEGER PRIMARY KEY,
		last_number INTEGER NOT NULL
	)`); err != nil {
		return nil, err
	} else if s.lookup, err = s.db.Prepare(
		`SELECT token_level, token_number FROM token_hashes WHERE hash = ?`,
	); err != nil {
		return nil, err
	}
	s.db.SetMaxOpenConns(1)
	return s, nil
}

// WithCIDs enables population of the legacy cid/content columns.
func (s *SQLiteStore) WithCIDs() *SQLiteStore {
	s.withCIDs = true
	return s
}

func (s *SQLiteStore) PutBatch(level, last int, entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO token_hashes(hash, token_level, token_number, cid, content)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var cid, content sql.NullString
		if s.withCIDs {
			if c, err := token.CIDv0(e.Hash); err == nil {
				cid = sql.NullString{String: c, Valid: true}
			} else {
				log.Printf("cid derivation failed for hash %s: %v", e.Hash, err)
			}
			content = sql.NullString{String: token.ContentFromHash(e.Level, e.Hash), Valid: true}
		}
		if _, err := stmt.Exec(e.Hash, e.Level, e.Number, cid, content); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO build_checkpoints(token_level, last_number)
		VALUES(?1, ?2)
		ON CONFLICT(token_level) DO UPDATE SET last_number = ?2`, level, last); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Lookup(hash string) (token.Key, error) {
	var key token.Key
	err := s.lookup.QueryRow(hash).Scan(&key.Level, &key.Number)
	if err == sql.ErrNoRows {
		return token.Key{}, ErrNotFound
	}
	if err != nil {
		return token.Key{}, err
	}
	return key, nil
}

func (s *SQLiteStore) Checkpoint(level int) (int, error) {
	var last int
	err := s.db.QueryRow(
		`SELECT last_number FROM build_checkpoints WHERE token_level = ?`, level,
	).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (s *SQLiteStore) Count() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM token_hashes`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM token_hashes`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM build_checkpoints`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.lookup != nil {
		s.lookup.Close()
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PebbleStore)(nil)
