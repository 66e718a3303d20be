package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	size INTEGER NOT NULL,
	beg_hash TEXT,
	rev_hash TEXT,
	full_hash TEXT,
	dir_path TEXT NOT NULL,
	depth INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_size ON files(size);
CREATE INDEX IF NOT EXISTS idx_files_beg ON files(beg_hash);
CREATE INDEX IF NOT EXISTS idx_files_rev ON files(rev_hash);
CREATE INDEX IF NOT EXISTS idx_files_full ON files(full_hash);

CREATE TABLE IF NOT EXISTS empty_dirs (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS roots (
	path TEXT PRIMARY KEY
) WITHOUT ROWID;
`

// Store is one analysis database covering a fixed set of root paths.
type Store struct {
	db   *sql.DB
	path string
}

// Create initializes a new store at path. An existing file at path is
// reused, so Create is safe to call on a partially written store.
func Create(path string) (*Store, error) {
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(schema); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Open opens an existing store and validates it.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// ATTACH is per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Validate checks that the schema is present and that every later-stage
// hash has its prerequisite.
func (s *Store) Validate() error {
	var tables int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('files', 'empty_dirs', 'roots')`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("validate %s: %w", s.path, err)
	}
	if tables != 3 {
		return fmt.Errorf("%s: missing tables: %w", s.path, ErrInconsistent)
	}

	var bad int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM files
		WHERE (rev_hash IS NOT NULL AND beg_hash IS NULL)
		   OR (full_hash IS NOT NULL AND rev_hash IS NULL)`).Scan(&bad)
	if err != nil {
		return fmt.Errorf("validate %s: %w", s.path, err)
	}
	if bad > 0 {
		return fmt.Errorf("%s: %d records with a hash missing its prerequisite: %w", s.path, bad, ErrInconsistent)
	}
	return nil
}

// SetRoots replaces the root path set recorded in the store.
func (s *Store) SetRoots(roots []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM roots`); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, r := range roots {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO roots (path) VALUES (?)`, r); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert root %s: %w", r, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Roots() ([]string, error) {
	return s.queryStrings(`SELECT path FROM roots ORDER BY path`)
}

func (s *Store) EmptyDirs() ([]string, error) {
	return s.queryStrings(`SELECT path FROM empty_dirs ORDER BY path`)
}

func (s *Store) queryStrings(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Stats returns the number of file and empty directory records.
func (s *Store) Stats() (files, emptyDirs int64, err error) {
	err = s.db.QueryRow(`SELECT (SELECT COUNT(*) FROM files), (SELECT COUNT(*) FROM empty_dirs)`).Scan(&files, &emptyDirs)
	return files, emptyDirs, err
}

// CopyFrom merges every record of src into s. For paths present in both,
// hashes already known in s win and missing ones are filled from src, so a
// computed stage hash is never thrown away.
func (s *Store) CopyFrom(src *Store) error {
	if _, err := s.db.Exec(`ATTACH DATABASE ? AS src`, src.path); err != nil {
		return fmt.Errorf("attach %s: %w", src.path, err)
	}
	defer func() { _, _ = s.db.Exec(`DETACH DATABASE src`) }()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmts := []string{
		`INSERT INTO main.files (path, size, beg_hash, rev_hash, full_hash, dir_path, depth)
		 SELECT path, size, beg_hash, rev_hash, full_hash, dir_path, depth FROM src.files WHERE true
		 ON CONFLICT(path) DO UPDATE SET
			beg_hash = COALESCE(files.beg_hash, excluded.beg_hash),
			rev_hash = COALESCE(files.rev_hash, excluded.rev_hash),
			full_hash = COALESCE(files.full_hash, excluded.full_hash)
		 WHERE files.size = excluded.size`,
		`INSERT OR IGNORE INTO main.empty_dirs (path) SELECT path FROM src.empty_dirs`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("copy from %s: %w", src.path, err)
		}
	}
	return tx.Commit()
}

// FileName returns the store file name for a path-set key.
func FileName(key string) string {
	return "analysis_" + key + ".db"
}

// Depth is the number of path components in p.
func Depth(p string) int {
	p = filepath.Clean(p)
	n := 0
	for _, part := range strings.Split(p, string(filepath.Separator)) {
		if part != "" {
			n++
		}
	}
	return n
}

// Canonical turns paths into a sorted, duplicate-free list of absolute paths.
func Canonical(paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		abs = filepath.Clean(abs)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}
