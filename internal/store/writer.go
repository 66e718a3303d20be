package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"dedupe-go/internal/hash"
)

// Writer batches inserts and hash updates into transactions of batchSize
// statements. No other query may run on the store while a Writer is open.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtFile  *sql.Stmt
	stmtDir   *sql.Stmt
	stmtHash  map[hash.Stage]*sql.Stmt
	batchSize int
	count     int
	mu        sync.Mutex
}

func (s *Store) NewWriter() (*Writer, error) {
	w := &Writer{
		db:        s.db,
		batchSize: 5000,
	}
	if err := w.beginTx(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtFile, err = w.tx.Prepare(`
		INSERT INTO files (path, size, beg_hash, rev_hash, full_hash, dir_path, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`)
	if err != nil {
		_ = w.tx.Rollback()
		return err
	}
	w.stmtDir, err = w.tx.Prepare(`INSERT OR IGNORE INTO empty_dirs (path) VALUES (?)`)
	if err != nil {
		_ = w.tx.Rollback()
		return err
	}
	w.stmtHash = make(map[hash.Stage]*sql.Stmt, 3)
	for _, stage := range []hash.Stage{hash.StageBegin, hash.StageReverse, hash.StageFull} {
		stmt, err := w.tx.Prepare(fmt.Sprintf(`UPDATE files SET %s = ? WHERE id = ?`, stage.Column()))
		if err != nil {
			_ = w.tx.Rollback()
			return err
		}
		w.stmtHash[stage] = stmt
	}
	return nil
}

func (w *Writer) commitTx() error {
	for _, stmt := range []*sql.Stmt{w.stmtFile, w.stmtDir} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	for _, stmt := range w.stmtHash {
		_ = stmt.Close()
	}
	return w.tx.Commit()
}

// AddFile records a walked file. Zero-size files get the empty-content
// hash for every stage without being read.
func (w *Writer) AddFile(path string, size int64) error {
	var beg, rev, full any
	if size == 0 {
		beg, rev, full = hash.EmptyHash, hash.EmptyHash, hash.EmptyHash
	}
	return w.exec(func() *sql.Stmt { return w.stmtFile }, path, size, beg, rev, full, filepath.Dir(path), Depth(path))
}

func (w *Writer) AddEmptyDir(path string) error {
	return w.exec(func() *sql.Stmt { return w.stmtDir }, path)
}

// SetHash stores the signature computed for stage on record id.
func (w *Writer) SetHash(stage hash.Stage, id int64, sum string) error {
	if stage == hash.StageSize {
		return fmt.Errorf("stage %s is not stored", stage)
	}
	return w.exec(func() *sql.Stmt { return w.stmtHash[stage] }, sum, id)
}

// exec runs the statement returned by pick. Statements are re-prepared on
// every batch rotation, so pick is called under the lock.
func (w *Writer) exec(pick func() *sql.Stmt, args ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stmt := pick()
	if stmt == nil {
		return fmt.Errorf("no statement prepared")
	}
	if _, err := stmt.Exec(args...); err != nil {
		return err
	}

	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		w.count = 0
	}
	return nil
}

// Close commits the pending batch.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commitTx()
}
