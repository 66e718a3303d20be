package tree

import (
	"path/filepath"
	"testing"

	"dedupe-go/internal/store"
)

func TestBuild_Empty(t *testing.T) {
	fp, err := Build(nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if fp.Root == "" {
		t.Error("Root hash should not be empty even for empty tree")
	}
	if fp.Groups != 0 || fp.Paths != 0 {
		t.Errorf("Expected no groups, got %d groups / %d paths", fp.Groups, fp.Paths)
	}
}

func TestBuild_SingleGroup(t *testing.T) {
	groups := []store.Group{{Hash: "abc", Size: 100, Paths: []string{"/a/1", "/b/1", "/c/1"}}}

	fp, err := Build(groups)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if fp.Root == "" {
		t.Error("Root hash should not be empty")
	}
	if fp.Paths != 3 {
		t.Errorf("Expected 3 paths, got %d", fp.Paths)
	}
	if fp.Reclaim != 200 {
		t.Errorf("Expected 200 reclaimable bytes, got %d", fp.Reclaim)
	}
	if fp.TotalSize != 300 {
		t.Errorf("Expected total size 300, got %d", fp.TotalSize)
	}
}

func TestBuild_OrderIndependent(t *testing.T) {
	a := []store.Group{
		{Hash: "h1", Size: 10, Paths: []string{"/a/x", "/b/x"}},
		{Hash: "h2", Size: 20, Paths: []string{"/a/y", "/b/y"}},
		{Hash: "h3", Size: 30, Paths: []string{"/a/z", "/b/z"}},
	}
	b := []store.Group{
		{Hash: "h3", Size: 30, Paths: []string{"/b/z", "/a/z"}},
		{Hash: "h1", Size: 10, Paths: []string{"/b/x", "/a/x"}},
		{Hash: "h2", Size: 20, Paths: []string{"/a/y", "/b/y"}},
	}

	fa, err := Build(a)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	fb, err := Build(b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if fa.Root != fb.Root {
		t.Errorf("Fingerprint should not depend on order: %s != %s", fa.Root, fb.Root)
	}
}

func TestBuild_DetectsChanges(t *testing.T) {
	base := []store.Group{
		{Hash: "h1", Size: 10, Paths: []string{"/a/x", "/b/x"}},
		{Hash: "h2", Size: 20, Paths: []string{"/a/y", "/b/y"}},
	}
	moved := []store.Group{
		{Hash: "h1", Size: 10, Paths: []string{"/a/x", "/c/x"}},
		{Hash: "h2", Size: 20, Paths: []string{"/a/y", "/b/y"}},
	}

	f1, err := Build(base)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	f2, err := Build(moved)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if f1.Root == f2.Root {
		t.Error("Different group membership should produce a different root")
	}
}

func TestSaveLoad(t *testing.T) {
	fp, err := Build([]store.Group{{Hash: "h", Size: 5, Paths: []string{"/a", "/b"}}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fingerprint.json")
	if err := Save(fp, []string{"/a", "/b"}, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Root != fp.Root {
		t.Errorf("Expected root %s, got %s", fp.Root, loaded.Root)
	}
	if len(loaded.Roots) != 2 {
		t.Errorf("Expected 2 roots, got %v", loaded.Roots)
	}
	if loaded.Generator != "dedupe-go" {
		t.Errorf("Unexpected generator %q", loaded.Generator)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}
