package graph

import (
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/store"
)

// Build creates the node registry for set. Every duplicated path becomes a
// leaf linked to the rest of its group, and every directory from a leaf up
// to its analysis root becomes a directory node whose aggregates are filled
// bottom-up from a listing of fsys.
func Build(fsys afero.Fs, set *store.DuplicateSet, log logrus.FieldLogger) (*Registry, error) {
	r := NewRegistry(set.Roots)

	for _, g := range set.Groups {
		r.addGroup(g.Hash, g.Size, false, g.Paths, log)
	}
	if len(set.EmptyDirs) > 1 {
		r.addGroup(hash.EmptyDirHash, 0, true, set.EmptyDirs, log)
	}

	for _, root := range r.roots {
		if _, known := r.index[root]; !known && !isDir(fsys, root) {
			continue
		}
		r.ensureDir(root)
	}
	for _, id := range r.Leaves() {
		r.ensureDir(r.nodes[id].Parent)
	}

	r.link()

	dirs := r.Dirs()
	sort.SliceStable(dirs, func(i, j int) bool { return r.nodes[dirs[i]].Depth > r.nodes[dirs[j]].Depth })
	for _, id := range dirs {
		r.aggregate(fsys, r.nodes[id], log)
	}

	log.WithFields(logrus.Fields{
		"leaves": r.leafCount,
		"dirs":   len(dirs),
	}).Debug("duplicate graph built")
	return r, nil
}

// isDir reports whether path is a directory. A path that cannot be stat'ed
// is treated as one, so it is kept as an unreadable directory.
func isDir(fsys afero.Fs, path string) bool {
	info, err := fsys.Stat(path)
	return err != nil || info.IsDir()
}

func (r *Registry) addGroup(sum string, size int64, isDir bool, paths []string, log logrus.FieldLogger) {
	members := make([]ID, 0, len(paths))
	for _, p := range paths {
		if _, exists := r.index[p]; exists {
			log.WithField("path", p).Warn("path listed in more than one group")
			continue
		}
		n := r.add(&Node{
			Path:   p,
			Parent: filepath.Dir(p),
			Depth:  store.Depth(p),
			Hash:   sum,
			Size:   size,
			IsDir:  isDir,
		})
		members = append(members, n.ID)
	}
	for _, id := range members {
		dupes := make([]ID, 0, len(members)-1)
		for _, other := range members {
			if other != id {
				dupes = append(dupes, other)
			}
		}
		r.nodes[id].Duplicates = dupes
	}
}

// ensureDir creates the directory node for path and its ancestors up to
// the top analysis root. A directory outside every root is created alone
// and marked Outside.
func (r *Registry) ensureDir(path string) *Node {
	if id, ok := r.index[path]; ok {
		return r.nodes[id]
	}
	n := r.add(&Node{
		Path:   path,
		Parent: filepath.Dir(path),
		Depth:  store.Depth(path),
		IsDir:  true,
		Dir:    &DirInfo{},
	})
	if !r.inside(path) {
		n.Dir.Outside = true
		return n
	}
	if !r.top(path) && n.Parent != path {
		r.ensureDir(n.Parent)
	}
	return n
}

// link attaches every node to its parent directory node.
func (r *Registry) link() {
	for _, id := range r.collect(func(*Node) bool { return true }) {
		n := r.nodes[id]
		p := r.ParentDir(n)
		if p == nil {
			continue
		}
		if n.Dir == nil {
			p.Dir.FileDupes = append(p.Dir.FileDupes, n.ID)
		} else {
			p.Dir.SubdirDupes = append(p.Dir.SubdirDupes, n.ID)
		}
	}
}

// aggregate classifies the directory's entries and folds in the totals of
// its subdirectory nodes, which must already be aggregated.
func (r *Registry) aggregate(fsys afero.Fs, n *Node, log logrus.FieldLogger) {
	d := n.Dir

	entries, err := afero.ReadDir(fsys, n.Path)
	if err != nil {
		log.WithError(err).WithField("path", n.Path).Warn("cannot list directory, keeping it")
		d.Extra++
	}
	for _, e := range entries {
		child := filepath.Join(n.Path, e.Name())
		if c, ok := r.Lookup(child); ok && c.Parent == n.Path {
			continue
		}
		if e.IsDir() {
			d.SubdirUniqs = append(d.SubdirUniqs, child)
		} else {
			d.FileUniqs = append(d.FileUniqs, child)
		}
	}
	d.Extra += len(d.FileUniqs) + len(d.SubdirUniqs)

	d.Count = len(d.FileDupes)
	d.CountTotal = d.Count
	d.ExtraTotal = d.Extra
	for _, id := range d.FileDupes {
		d.Size += r.nodes[id].Size
	}

	allFull := true
	for _, id := range d.SubdirDupes {
		sub := r.nodes[id].Dir
		d.CountTotal += sub.CountTotal
		d.ExtraTotal += sub.ExtraTotal
		d.Size += sub.Size
		if !sub.FullDupe {
			allFull = false
		}
	}

	hasDupes := len(d.FileDupes)+len(d.SubdirDupes) > 0
	d.FullDupe = d.Extra == 0 && allFull && hasDupes
	d.Superset = d.Extra > 0 && allFull && d.CountTotal > 0
	n.Size = d.Size
}
