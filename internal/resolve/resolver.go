// Package resolve decides, for every duplicated file, whether it is kept or
// deleted. Directories are chosen greedily: each pass keeps the direct
// duplicates of the best-ranked productive directory and deletes their
// copies, collapsing directories whose whole content is gone into a single
// directory deletion.
package resolve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/sirupsen/logrus"

	"dedupe-go/internal/graph"
)

var (
	// ErrDeadEnd is returned when duplicates remain but no directory can
	// make progress. It means the graph is malformed.
	ErrDeadEnd = errors.New("no directory can resolve the remaining duplicates")

	// ErrUnresolved is returned when a duplicate ends up neither kept nor
	// deleted, or both.
	ErrUnresolved = errors.New("duplicate left unresolved")
)

// Order reports whether directory a should be preferred over b.
type Order func(a, b *graph.Node) bool

// DefaultOrder prefers directories near earlier decisions, then those with
// the most duplicates, then those with the most unique content, then the
// lexically smaller path.
func DefaultOrder(a, b *graph.Node) bool {
	da, db := a.Dir, b.Dir
	if da.KeptTotal != db.KeptTotal {
		return da.KeptTotal > db.KeptTotal
	}
	if da.CountTotal != db.CountTotal {
		return da.CountTotal > db.CountTotal
	}
	if da.ExtraTotal != db.ExtraTotal {
		return da.ExtraTotal > db.ExtraTotal
	}
	return a.Path < b.Path
}

type Options struct {
	Order  Order
	Logger logrus.FieldLogger
}

// Entry is the outcome for one kept directory.
type Entry struct {
	Path      string
	Kept      []string
	Deleted   []string
	Reclaimed int64
}

type Result struct {
	Entries []Entry
	Total   int64
	// Picks lists the directory chosen by each pass.
	Picks []string
}

// Empty reports whether nothing was resolved.
func (r *Result) Empty() bool {
	return len(r.Entries) == 0
}

// Deletions returns every deleted path across all entries, sorted.
func (r *Result) Deletions() []string {
	out := make([]string, 0)
	for _, e := range r.Entries {
		out = append(out, e.Deleted...)
	}
	sort.Strings(out)
	return out
}

type resolver struct {
	g        *graph.Registry
	order    Order
	log      logrus.FieldLogger
	all      *roaring.Bitmap
	reviewed *roaring.Bitmap
	entries  map[graph.ID]*Entry
}

// Run resolves every leaf of g. The registry's flags are updated in place.
func Run(g *graph.Registry, opts Options) (*Result, error) {
	if opts.Order == nil {
		opts.Order = DefaultOrder
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	r := &resolver{
		g:        g,
		order:    opts.Order,
		log:      opts.Logger,
		all:      roaring.New(),
		reviewed: roaring.New(),
		entries:  make(map[graph.ID]*Entry),
	}
	for _, id := range g.Leaves() {
		r.all.Add(uint32(id))
	}

	res := &Result{Entries: make([]Entry, 0)}
	if r.all.IsEmpty() {
		return res, nil
	}

	candidates := g.TopDirs()
	for pass := 1; ; pass++ {
		remaining := roaring.AndNot(r.all, r.reviewed)
		if remaining.IsEmpty() {
			break
		}
		if pass > 1 {
			candidates = r.reseed(remaining)
		}

		d := r.pick(candidates, make(map[graph.ID]bool))
		if d == nil {
			return nil, fmt.Errorf("pass %d with %d unresolved: %w", pass, remaining.GetCardinality(), ErrDeadEnd)
		}
		kept, err := r.keep(d)
		if err != nil {
			return nil, err
		}
		res.Picks = append(res.Picks, d.Path)
		r.log.WithFields(logrus.Fields{
			"pass": pass,
			"path": d.Path,
			"kept": kept,
		}).Debug("kept directory")
	}

	if err := r.compact(); err != nil {
		return nil, err
	}
	if err := r.verify(); err != nil {
		return nil, err
	}

	ids := make([]graph.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.Node(ids[i]).Path < g.Node(ids[j]).Path })
	for _, id := range ids {
		e := r.entries[id]
		res.Entries = append(res.Entries, *e)
		res.Total += e.Reclaimed
	}
	return res, nil
}

// reseed returns the directories one level above each remaining leaf's
// directory, so the next pass starts close to where duplicates are left.
func (r *resolver) reseed(remaining *roaring.Bitmap) []graph.ID {
	seen := make(map[graph.ID]bool)
	out := make([]graph.ID, 0)
	it := remaining.Iterator()
	for it.HasNext() {
		leaf := r.g.Node(graph.ID(it.Next()))
		d := r.g.ParentDir(leaf)
		if d == nil {
			continue
		}
		if up := r.g.ParentDir(d); up != nil {
			d = up
		}
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d.ID)
		}
	}
	return out
}

// pick returns the best-ranked productive directory among candidates,
// descending into the children of unproductive ones.
func (r *resolver) pick(candidates []graph.ID, visited map[graph.ID]bool) *graph.Node {
	nodes := make([]*graph.Node, 0, len(candidates))
	for _, id := range candidates {
		n := r.g.Node(id)
		if n.Deleted || visited[id] {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.SliceStable(nodes, func(i, j int) bool { return r.order(nodes[i], nodes[j]) })

	for _, n := range nodes {
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		if r.productive(n) {
			return n
		}
		if found := r.pick(n.Dir.DupeChildren(), visited); found != nil {
			return found
		}
	}
	return nil
}

func (r *resolver) productive(d *graph.Node) bool {
	for _, id := range d.Dir.FileDupes {
		if !r.g.Node(id).Resolved() {
			return true
		}
	}
	return false
}

// keep keeps every unresolved duplicate directly in d and deletes their
// unresolved copies.
func (r *resolver) keep(d *graph.Node) (int, error) {
	e, ok := r.entries[d.ID]
	if !ok {
		e = &Entry{Path: d.Path}
	}

	kept := 0
	for _, fid := range d.Dir.FileDupes {
		f := r.g.Node(fid)
		if f.Resolved() {
			continue
		}
		if err := r.g.MarkKept(fid); err != nil {
			return kept, err
		}
		r.reviewed.Add(uint32(fid))
		e.Kept = append(e.Kept, f.Path)
		kept++
		for anc := d; anc != nil; anc = r.g.ParentDir(anc) {
			anc.Dir.KeptTotal++
		}

		for _, pid := range f.Duplicates {
			p := r.g.Node(pid)
			if p.Resolved() {
				continue
			}
			if err := r.g.MarkDeleted(pid); err != nil {
				return kept, err
			}
			r.reviewed.Add(uint32(pid))
			e.Deleted = append(e.Deleted, p.Path)
			e.Reclaimed += p.Size

			pd := r.g.ParentDir(p)
			if pd == nil {
				continue
			}
			pd.Dir.Count--
			for anc := pd; anc != nil; anc = r.g.ParentDir(anc) {
				anc.Dir.CountTotal--
			}
			if err := r.collapse(pd); err != nil {
				return kept, err
			}
		}
	}

	if kept > 0 {
		if err := r.g.MarkKept(d.ID); err != nil {
			return kept, err
		}
		r.entries[d.ID] = e
	}
	return kept, nil
}

// collapse deletes d and then each ancestor for as long as they are empty.
func (r *resolver) collapse(d *graph.Node) error {
	for ; d != nil && r.empty(d); d = r.g.ParentDir(d) {
		if err := r.g.MarkDeleted(d.ID); err != nil {
			return err
		}
	}
	return nil
}

// empty reports whether everything in d is deleted and d holds nothing
// else, so d can be removed as a whole.
func (r *resolver) empty(d *graph.Node) bool {
	info := d.Dir
	if d.Resolved() || info.Outside || info.Extra > 0 {
		return false
	}
	if len(info.FileDupes)+len(info.SubdirDupes) == 0 {
		return false
	}
	for _, id := range info.FileDupes {
		if !r.g.Node(id).Deleted {
			return false
		}
	}
	for _, id := range info.SubdirDupes {
		if !r.g.Node(id).Deleted {
			return false
		}
	}
	return true
}

// compact deletes any directory left empty, deepest first, and replaces
// deleted paths in every entry by their topmost deleted directory. Each
// path is reported once, by the first entry in path order.
func (r *resolver) compact() error {
	dirs := r.g.Dirs()
	sort.SliceStable(dirs, func(i, j int) bool { return r.g.Node(dirs[i]).Depth > r.g.Node(dirs[j]).Depth })
	for _, id := range dirs {
		d := r.g.Node(id)
		if r.empty(d) {
			if err := r.g.MarkDeleted(id); err != nil {
				return err
			}
		}
	}

	ids := make([]graph.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.g.Node(ids[i]).Path < r.g.Node(ids[j]).Path })

	claimed := make(map[string]bool)
	for _, id := range ids {
		e := r.entries[id]
		deleted := make([]string, 0, len(e.Deleted))
		for _, p := range e.Deleted {
			target := r.topDeleted(p)
			if claimed[target] {
				continue
			}
			claimed[target] = true
			deleted = append(deleted, target)
		}
		sort.Strings(deleted)
		e.Deleted = deleted
	}
	return nil
}

func (r *resolver) topDeleted(path string) string {
	n, ok := r.g.Lookup(path)
	if !ok {
		return path
	}
	top := path
	for p := r.g.ParentDir(n); p != nil && p.Deleted; p = r.g.ParentDir(p) {
		top = p.Path
	}
	return top
}

func (r *resolver) verify() error {
	it := r.all.Iterator()
	for it.HasNext() {
		n := r.g.Node(graph.ID(it.Next()))
		if n.Kept == n.Deleted {
			return fmt.Errorf("%s: %w", n, ErrUnresolved)
		}
	}
	return nil
}
