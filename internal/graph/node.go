package graph

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

var ErrConflict = errors.New("node cannot be both kept and deleted")

// ID indexes a node in its Registry.
type ID uint32

// Node is a duplicated file, a duplicated empty directory, or (when Dir is
// set) a directory aggregating duplicates below it. Relationships are
// expressed as IDs or paths into the owning Registry.
type Node struct {
	ID     ID
	Path   string
	Parent string
	Depth  int
	Hash   string
	Size   int64
	IsDir  bool

	Kept    bool
	Deleted bool

	// Duplicates are the other members of this node's group.
	Duplicates []ID

	Dir *DirInfo
}

// DirInfo holds the aggregate state of a directory node.
type DirInfo struct {
	FileDupes   []ID
	FileUniqs   []string
	SubdirDupes []ID
	SubdirUniqs []string

	Count      int
	CountTotal int
	Extra      int
	ExtraTotal int
	Size       int64
	KeptTotal  int

	FullDupe bool
	Superset bool

	// Outside marks a directory above every analysis root. It anchors
	// aggregation but is never deleted.
	Outside bool
}

// DupeChildren are the directory nodes directly below this one.
func (d *DirInfo) DupeChildren() []ID {
	return d.SubdirDupes
}

func (n *Node) String() string {
	state := "pending"
	switch {
	case n.Kept:
		state = "kept"
	case n.Deleted:
		state = "deleted"
	}
	return fmt.Sprintf("%s (%s)", n.Path, state)
}

// Resolved reports whether the node is kept or deleted.
func (n *Node) Resolved() bool {
	return n.Kept || n.Deleted
}

// Registry owns every node, indexed by ID and by path.
type Registry struct {
	nodes     []*Node
	index     map[string]ID
	roots     []string
	leafCount int
}

func NewRegistry(roots []string) *Registry {
	r := &Registry{
		index: make(map[string]ID),
		roots: append([]string(nil), roots...),
	}
	sort.Strings(r.roots)
	return r
}

func (r *Registry) add(n *Node) *Node {
	n.ID = ID(len(r.nodes))
	r.nodes = append(r.nodes, n)
	r.index[n.Path] = n.ID
	if n.Dir == nil {
		r.leafCount++
	}
	return n
}

func (r *Registry) Node(id ID) *Node {
	return r.nodes[id]
}

func (r *Registry) Lookup(path string) (*Node, bool) {
	id, ok := r.index[path]
	if !ok {
		return nil, false
	}
	return r.nodes[id], true
}

func (r *Registry) Len() int {
	return len(r.nodes)
}

func (r *Registry) Roots() []string {
	return r.roots
}

// Leaves returns the duplicate file and empty directory nodes sorted by
// path.
func (r *Registry) Leaves() []ID {
	return r.collect(func(n *Node) bool { return n.Dir == nil })
}

// Dirs returns the directory nodes sorted by path.
func (r *Registry) Dirs() []ID {
	return r.collect(func(n *Node) bool { return n.Dir != nil })
}

// TopDirs returns directory nodes without a parent directory node.
func (r *Registry) TopDirs() []ID {
	return r.collect(func(n *Node) bool { return n.Dir != nil && r.ParentDir(n) == nil })
}

func (r *Registry) collect(keep func(*Node) bool) []ID {
	out := make([]ID, 0)
	for _, n := range r.nodes {
		if keep(n) {
			out = append(out, n.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.nodes[out[i]].Path < r.nodes[out[j]].Path })
	return out
}

// ParentDir returns the directory node holding n, or nil.
func (r *Registry) ParentDir(n *Node) *Node {
	if n.Parent == n.Path {
		return nil
	}
	p, ok := r.Lookup(n.Parent)
	if !ok || p.Dir == nil {
		return nil
	}
	return p
}

// MarkKept sets the kept flag. Flags never revert.
func (r *Registry) MarkKept(id ID) error {
	n := r.nodes[id]
	if n.Deleted {
		return fmt.Errorf("keep %s: %w", n.Path, ErrConflict)
	}
	n.Kept = true
	return nil
}

// MarkDeleted sets the deleted flag. Flags never revert.
func (r *Registry) MarkDeleted(id ID) error {
	n := r.nodes[id]
	if n.Kept {
		return fmt.Errorf("delete %s: %w", n.Path, ErrConflict)
	}
	n.Deleted = true
	return nil
}

// inside reports whether path is one of the roots or below one.
func (r *Registry) inside(path string) bool {
	for _, root := range r.roots {
		if within(path, root) {
			return true
		}
	}
	return false
}

// top reports whether path is a root not nested in another root.
func (r *Registry) top(path string) bool {
	isRoot := false
	for _, root := range r.roots {
		if root == path {
			isRoot = true
		} else if within(path, root) {
			return false
		}
	}
	return isRoot
}

func within(path, root string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
