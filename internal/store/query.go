package store

import (
	"database/sql"
	"fmt"
	"strings"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/walker"
)

// FileRecord is one stored file. Empty hash strings stand for NULL.
type FileRecord struct {
	ID       int64
	Path     string
	Size     int64
	BegHash  string
	RevHash  string
	FullHash string
	DirPath  string
	Depth    int
}

// Group is a set of paths sharing a stage hash.
type Group struct {
	Hash  string
	Size  int64
	Paths []string
}

// DuplicateSet is everything the graph builder needs from a store.
type DuplicateSet struct {
	Groups    []Group
	Sizes     map[string]int64
	Roots     []string
	EmptyDirs []string
}

// keyColumns are the columns that must all match for two records to still
// collide after stage.
func keyColumns(stage hash.Stage) []string {
	cols := make([]string, 0, 4)
	for s := hash.StageSize; s <= stage; s++ {
		cols = append(cols, s.Column())
	}
	return cols
}

// collisions builds a subquery selecting the key tuples shared by at least
// two records after stage.
func collisions(stage hash.Stage) (string, string) {
	cols := keyColumns(stage)
	var notNull, join []string
	for _, c := range cols {
		notNull = append(notNull, c+" IS NOT NULL")
		join = append(join, fmt.Sprintf("f.%s = g.%s", c, c))
	}
	list := strings.Join(cols, ", ")
	sub := fmt.Sprintf(`SELECT %s FROM files WHERE %s GROUP BY %s HAVING COUNT(*) > 1`,
		list, strings.Join(notNull, " AND "), list)
	return sub, strings.Join(join, " AND ")
}

// Pending returns the records that still collide after the previous stage
// and have no value yet for stage. The collision test runs over every
// record, so merged stores pick up collisions that span their sources.
func (s *Store) Pending(stage hash.Stage) ([]walker.Candidate, error) {
	if stage == hash.StageSize {
		return nil, fmt.Errorf("stage %s has no pending work", stage)
	}
	sub, on := collisions(stage.Prev())
	query := fmt.Sprintf(`SELECT f.id, f.path, f.size FROM files f JOIN (%s) g ON %s
		WHERE f.%s IS NULL ORDER BY f.path`, sub, on, stage.Column())

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", stage, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]walker.Candidate, 0)
	for rows.Next() {
		var c walker.Candidate
		if err := rows.Scan(&c.ID, &c.Path, &c.Size); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Groups returns the duplicate groups after stage, ordered by size and
// hash, each with its paths sorted.
func (s *Store) Groups(stage hash.Stage) ([]Group, error) {
	cols := keyColumns(stage)
	sub, on := collisions(stage)
	query := fmt.Sprintf(`SELECT f.path, %s FROM files f JOIN (%s) g ON %s ORDER BY %s, f.path`,
		prefixed("f.", cols), sub, on, prefixed("f.", cols))

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("groups %s: %w", stage, err)
	}
	defer func() { _ = rows.Close() }()

	// Rows of one group are adjacent, so a change of key closes a group.
	groups := make([]Group, 0)
	prev := ""
	vals := make([]sql.NullString, len(cols))
	dest := make([]any, 0, len(cols)+1)
	var path string
	dest = append(dest, &path)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String
		}
		key := strings.Join(parts, "\x00")
		if len(groups) == 0 || key != prev {
			var size int64
			if _, err := fmt.Sscan(vals[0].String, &size); err != nil {
				return nil, fmt.Errorf("groups %s: bad size %q: %w", stage, vals[0].String, err)
			}
			groups = append(groups, Group{Hash: vals[len(vals)-1].String, Size: size})
			prev = key
		}
		g := &groups[len(groups)-1]
		g.Paths = append(g.Paths, path)
	}
	return groups, rows.Err()
}

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

// Duplicates collects the groups after the final stage together with the
// store's roots and empty directories.
func (s *Store) Duplicates(final hash.Stage) (*DuplicateSet, error) {
	groups, err := s.Groups(final)
	if err != nil {
		return nil, err
	}
	roots, err := s.Roots()
	if err != nil {
		return nil, err
	}
	empty, err := s.EmptyDirs()
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int64)
	for _, g := range groups {
		for _, p := range g.Paths {
			sizes[p] = g.Size
		}
	}
	return &DuplicateSet{Groups: groups, Sizes: sizes, Roots: roots, EmptyDirs: empty}, nil
}

// Files returns every file record ordered by path.
func (s *Store) Files() ([]FileRecord, error) {
	rows, err := s.db.Query(`SELECT id, path, size, beg_hash, rev_hash, full_hash, dir_path, depth
		FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]FileRecord, 0)
	for rows.Next() {
		var (
			r              FileRecord
			beg, rev, full sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Path, &r.Size, &beg, &rev, &full, &r.DirPath, &r.Depth); err != nil {
			return nil, err
		}
		r.BegHash, r.RevHash, r.FullHash = beg.String, rev.String, full.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Len returns the number of paths in the set.
func (d *DuplicateSet) Len() int {
	return len(d.Sizes)
}

// Empty reports whether the set holds no duplicate files or empty
// directories.
func (d *DuplicateSet) Empty() bool {
	return len(d.Groups) == 0 && len(d.EmptyDirs) < 2
}
