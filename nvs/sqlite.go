package nvs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists key-value pairs in a single SQLite table. It is the
// host-side analogue of the on-device NVS flash partition.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the backing database file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrStorage, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrStorage, err)
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetStr(ns, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, ns, key,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s/%s: %v", ErrStorage, ns, key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) PutStr(ns, key, val string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		ns, key, val,
	)
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", ErrStorage, ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) GetU8(ns, key string) (uint8, bool, error) {
	str, ok, err := s.GetStr(ns, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, perr := strconv.ParseUint(str, 10, 8)
	if perr != nil {
		return 0, false, nil
	}
	return uint8(n), true, nil
}

func (s *SQLiteStore) PutU8(ns, key string, val uint8) error {
	return s.PutStr(ns, key, strconv.FormatUint(uint64(val), 10))
}

func (s *SQLiteStore) GetU32(ns, key string) (uint32, bool, error) {
	str, ok, err := s.GetStr(ns, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, perr := strconv.ParseUint(str, 10, 32)
	if perr != nil {
		return 0, false, nil
	}
	return uint32(n), true, nil
}

func (s *SQLiteStore) PutU32(ns, key string, val uint32) error {
	return s.PutStr(ns, key, strconv.FormatUint(uint64(val), 10))
}

func (s *SQLiteStore) EraseNamespace(ns string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ?`, ns); err != nil {
		return fmt.Errorf("%w: erase %s: %v", ErrStorage, ns, err)
	}
	return nil
}
