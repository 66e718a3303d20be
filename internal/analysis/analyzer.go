// Package analysis maps sets of root paths to analysis stores. It walks and
// hashes roots that were never analyzed, reuses stores that already exist
// and merges stores of smaller path sets into the store of a larger one.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/progress"
	"dedupe-go/internal/store"
	"dedupe-go/internal/walker"
)

// maxSubsetSearch bounds the number of roots for which stores of proper
// subsets are searched. Above it only single-root stores are reused.
const maxSubsetSearch = 12

type Options struct {
	// StorageDir holds one store file per analyzed path set. It lives on
	// the host filesystem regardless of Fs.
	StorageDir     string
	Exclude        []string
	Workers        int
	Exhaustive     bool
	PrescanTimeout time.Duration
	Progress       bool

	// Fs is the filesystem that is walked and hashed. Defaults to the OS.
	Fs     afero.Fs
	Logger logrus.FieldLogger
}

type Analyzer struct {
	opts Options
	fs   afero.Fs
	log  logrus.FieldLogger
}

func New(opts Options) *Analyzer {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PrescanTimeout <= 0 {
		opts.PrescanTimeout = 2 * time.Second
	}
	return &Analyzer{opts: opts, fs: opts.Fs, log: opts.Logger}
}

// Session is an open store together with the lock on its key.
type Session struct {
	*store.Store
	Roots []string
	lock  *store.FileLock
}

func (s *Session) Close() error {
	err := s.Store.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Key is the store key of a canonical root list walked with the given
// exclusion patterns. Pattern order does not matter.
func Key(roots, exclude []string) string {
	key := strings.Join(roots, "|")
	if len(exclude) > 0 {
		patterns := append([]string(nil), exclude...)
		sort.Strings(patterns)
		key += "\x00" + strings.Join(patterns, "|")
	}
	return hash.KeyOf(key)
}

// StorePath returns the store file used for paths.
func (a *Analyzer) StorePath(paths []string) (string, error) {
	roots, err := store.Canonical(paths)
	if err != nil {
		return "", err
	}
	return a.storePath(roots), nil
}

func (a *Analyzer) storePath(roots []string) string {
	return filepath.Join(a.opts.StorageDir, store.FileName(Key(roots, a.opts.Exclude)))
}

// Load returns the store for paths, creating or merging it as needed, with
// every pending hash stage completed.
func (a *Analyzer) Load(ctx context.Context, paths []string) (*Session, error) {
	roots, err := store.Canonical(paths)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, errors.New("no paths to analyze")
	}
	if err := os.MkdirAll(a.opts.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return a.load(ctx, roots)
}

// Duplicates loads the store for paths and returns its final-stage groups.
func (a *Analyzer) Duplicates(ctx context.Context, paths []string) (*store.DuplicateSet, error) {
	sess, err := a.Load(ctx, paths)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()
	return sess.Duplicates(a.Final())
}

// Final is the stage whose groups count as duplicates for this analyzer.
func (a *Analyzer) Final() hash.Stage {
	return hash.Final(a.opts.Exhaustive)
}

// Forget removes every store whose roots overlap paths, so that the next
// run analyzes them afresh. It returns the number of stores removed.
func (a *Analyzer) Forget(paths []string) (int, error) {
	roots, err := store.Canonical(paths)
	if err != nil {
		return 0, err
	}
	dbs, err := filepath.Glob(filepath.Join(a.opts.StorageDir, store.FileName("*")))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, db := range dbs {
		lock, ok, err := store.TryLock(db + ".lock")
		if err != nil {
			return removed, err
		}
		if !ok {
			a.log.WithField("store", filepath.Base(db)).Warn("store in use, not forgetting it")
			continue
		}
		stale, err := a.covers(db, roots)
		if err == nil && stale {
			err = os.Remove(db)
			if err == nil {
				removed++
				a.log.WithField("store", filepath.Base(db)).Debug("forgot store")
			}
		}
		_ = lock.Unlock()
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (a *Analyzer) covers(db string, roots []string) (bool, error) {
	s, err := store.Open(db)
	if errors.Is(err, store.ErrInconsistent) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = s.Close() }()

	stored, err := s.Roots()
	if err != nil {
		return false, err
	}
	for _, have := range stored {
		for _, r := range roots {
			if within(have, r) || within(r, have) {
				return true, nil
			}
		}
	}
	return false, nil
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (a *Analyzer) load(ctx context.Context, roots []string) (*Session, error) {
	dbPath := a.storePath(roots)
	log := a.log.WithField("store", filepath.Base(dbPath))

	lock, err := store.Lock(dbPath + ".lock")
	if err != nil {
		return nil, err
	}

	s, err := store.Open(dbPath)
	switch {
	case err == nil:
		log.WithField("roots", len(roots)).Debug("using existing store")
	case errors.Is(err, store.ErrNotFound):
		if len(roots) == 1 {
			err = a.create(ctx, dbPath, roots[0])
		} else {
			err = a.merge(ctx, dbPath, roots)
		}
		if err == nil {
			s, err = store.Open(dbPath)
		}
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	if err := a.hashStages(ctx, s); err != nil {
		_ = s.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return &Session{Store: s, Roots: roots, lock: lock}, nil
}

// build fills a fresh store in a temporary file and moves it to dbPath once
// fill succeeds, so a store at dbPath always has its complete file list.
func (a *Analyzer) build(dbPath string, roots []string, fill func(*store.Store) error) error {
	tmp := strings.TrimSuffix(dbPath, ".db") + "." + uuid.NewString() + ".tmp"
	s, err := store.Create(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := s.SetRoots(roots); err != nil {
		_ = s.Close()
		return err
	}
	if err := fill(s); err != nil {
		_ = s.Close()
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		return fmt.Errorf("failed to move store into place: %w", err)
	}
	return nil
}

// create walks a single root into a new store.
func (a *Analyzer) create(ctx context.Context, dbPath, root string) error {
	log := a.log.WithFields(logrus.Fields{"store": filepath.Base(dbPath), "path": root})
	log.Info("analyzing")

	var bar *progress.Bar
	if a.opts.Progress {
		total, complete := walker.Count(ctx, a.fs, root, a.opts.Exclude, a.opts.PrescanTimeout)
		if !complete {
			log.WithField("counted", total).Debug("pre-scan incomplete")
		}
		bar = progress.New("index", total)
	}

	res, err := walker.Walk(ctx, a.fs, root, a.opts.Exclude)
	if err != nil {
		return err
	}
	for _, werr := range res.Errors {
		log.WithError(werr).Warn("skipping unreadable entry")
	}
	bar.SetTotal(int64(len(res.Files)))

	var size int64
	err = a.build(dbPath, []string{root}, func(s *store.Store) error {
		w, err := s.NewWriter()
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			if err := w.AddFile(f.Path, f.Size); err != nil {
				_ = w.Close()
				return fmt.Errorf("record %s: %w", f.Path, err)
			}
			size += f.Size
			bar.Increment()
		}
		for _, d := range res.EmptyDirs {
			if err := w.AddEmptyDir(d); err != nil {
				_ = w.Close()
				return fmt.Errorf("record %s: %w", d, err)
			}
		}
		return w.Close()
	})
	bar.Finish()
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"files":      len(res.Files),
		"empty_dirs": len(res.EmptyDirs),
		"size":       humanize.IBytes(uint64(size)),
	}).Info("indexed")
	return nil
}

// merge builds the store for roots from the stores of its subsets,
// creating single-root stores for roots no existing store covers.
func (a *Analyzer) merge(ctx context.Context, dbPath string, roots []string) error {
	sources, err := a.sources(ctx, roots)
	defer func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}()
	if err != nil {
		return err
	}

	log := a.log.WithField("store", filepath.Base(dbPath))
	return a.build(dbPath, roots, func(s *store.Store) error {
		for _, src := range sources {
			log.WithField("source", filepath.Base(src.Path())).Debug("merging store")
			if err := s.CopyFrom(src.Store); err != nil {
				return err
			}
		}
		return nil
	})
}

// sources searches stores of proper subsets of roots, largest first, and
// loads single-root stores for whatever is left uncovered.
func (a *Analyzer) sources(ctx context.Context, roots []string) ([]*Session, error) {
	var found []*Session
	covered := make(map[string]bool, len(roots))

	if len(roots) <= maxSubsetSearch {
		for k := len(roots) - 1; k >= 2; k-- {
			for _, combo := range combinations(uncovered(roots, covered), k) {
				if anyCovered(combo, covered) {
					continue
				}
				if _, err := os.Stat(a.storePath(combo)); err != nil {
					continue
				}
				sess, err := a.load(ctx, combo)
				if err != nil {
					return found, err
				}
				found = append(found, sess)
				for _, r := range combo {
					covered[r] = true
				}
			}
		}
	}

	for _, r := range uncovered(roots, covered) {
		sess, err := a.load(ctx, []string{r})
		if err != nil {
			return found, err
		}
		found = append(found, sess)
	}
	return found, nil
}

func uncovered(roots []string, covered map[string]bool) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if !covered[r] {
			out = append(out, r)
		}
	}
	return out
}

func anyCovered(combo []string, covered map[string]bool) bool {
	for _, r := range combo {
		if covered[r] {
			return true
		}
	}
	return false
}

// combinations returns all k-element subsets of items in lexical order.
// Each subset keeps the order of items.
func combinations(items []string, k int) [][]string {
	var out [][]string
	if k <= 0 || k > len(items) {
		return out
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]string, k)
		for i, j := range idx {
			combo[i] = items[j]
		}
		out = append(out, combo)

		i := k - 1
		for i >= 0 && idx[i] == len(items)-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// hashStages runs every pending stage in order. A stage is committed to the
// store before the next one selects its candidates.
func (a *Analyzer) hashStages(ctx context.Context, s *store.Store) error {
	for _, stage := range hash.Pipeline(a.opts.Exhaustive) {
		pending, err := s.Pending(stage)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}

		log := a.log.WithFields(logrus.Fields{
			"store": filepath.Base(s.Path()),
			"stage": stage.String(),
		})
		log.WithField("files", len(pending)).Debug("hashing")

		var bar *progress.Bar
		if a.opts.Progress {
			bar = progress.New(stage.String(), int64(len(pending)))
		}
		res, err := walker.HashStage(ctx, a.fs, stage, pending, a.opts.Workers, bar)
		bar.Finish()
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		for _, herr := range res.Errors {
			log.WithError(herr).Warn("skipping unreadable file")
		}

		ids := make([]int64, 0, len(res.Hashes))
		for id := range res.Hashes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		w, err := s.NewWriter()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := w.SetHash(stage, id, res.Hashes[id]); err != nil {
				_ = w.Close()
				return fmt.Errorf("stage %s: %w", stage, err)
			}
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}
