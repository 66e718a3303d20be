package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"dedupe-go/internal/hash"
)

var osFs = afero.NewOsFs()

func TestWalk_AllFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test directory structure
	files := []string{
		"file1.txt",
		"file2.go",
		"subdir/file3.txt",
		"subdir/nested/file4.md",
	}

	for _, f := range files {
		fullPath := filepath.Join(tmpDir, f)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte("content"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}

	// Walk with no exclusions
	result, err := Walk(context.Background(), osFs, tmpDir, []string{})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if len(result.Files) != len(files) {
		t.Errorf("Expected %d files, got %d", len(files), len(result.Files))
	}
	if len(result.EmptyDirs) != 0 {
		t.Errorf("Expected no empty dirs, got %v", result.EmptyDirs)
	}
}

func TestWalk_WithExclusions(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test directory structure
	files := map[string]bool{
		"file1.txt":           false, // should be included
		"file2.tmp":           true,  // should be excluded (*.tmp)
		"file3.log":           true,  // should be excluded (*.log)
		"node_modules/lib.js": true,  // should be excluded (node_modules/)
		"src/main.go":         false, // should be included
		"dist/output.js":      true,  // should be excluded (dist/)
		".git/config":         true,  // should be excluded (.git/)
	}

	for f := range files {
		fullPath := filepath.Join(tmpDir, f)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte("content"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}

	exclusions := []string{
		"*.tmp",
		"*.log",
		"node_modules/",
		"dist/",
		".git/",
	}

	result, err := Walk(context.Background(), osFs, tmpDir, exclusions)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	// Count expected files
	expectedCount := 0
	for _, shouldExclude := range files {
		if !shouldExclude {
			expectedCount++
		}
	}

	if len(result.Files) != expectedCount {
		t.Errorf("Expected %d files, got %d", expectedCount, len(result.Files))
	}

	// Verify excluded files are not in results
	for _, fileInfo := range result.Files {
		relPath, _ := filepath.Rel(tmpDir, fileInfo.Path)
		if shouldExclude, exists := files[relPath]; exists && shouldExclude {
			t.Errorf("File %s should have been excluded", relPath)
		}
	}
}

func TestWalk_EmptyDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	result, err := Walk(context.Background(), osFs, tmpDir, []string{})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if len(result.Files) != 0 {
		t.Errorf("Expected 0 files in empty directory, got %d", len(result.Files))
	}
	if len(result.EmptyDirs) != 1 || result.EmptyDirs[0] != tmpDir {
		t.Errorf("Expected the root to be reported empty, got %v", result.EmptyDirs)
	}
}

func TestWalk_NestedEmptyDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	for _, d := range []string{"a/empty", "b/empty", "c"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "c", "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := Walk(context.Background(), osFs, tmpDir, nil)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	// a and b contain a subdirectory, so only the leaves are empty.
	want := map[string]bool{
		filepath.Join(tmpDir, "a", "empty"): true,
		filepath.Join(tmpDir, "b", "empty"): true,
	}
	if len(result.EmptyDirs) != len(want) {
		t.Fatalf("Expected %d empty dirs, got %v", len(want), result.EmptyDirs)
	}
	for _, d := range result.EmptyDirs {
		if !want[d] {
			t.Errorf("Unexpected empty dir %s", d)
		}
	}
}

func TestWalk_NonExistentDirectory(t *testing.T) {
	_, err := Walk(context.Background(), osFs, "/nonexistent/directory", []string{})
	if err == nil {
		t.Error("Walk should return error for nonexistent directory")
	}
}

func TestWalk_SkipsSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "real.txt")
	if err := os.WriteFile(target, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(tmpDir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	result, err := Walk(context.Background(), osFs, tmpDir, nil)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].Path != target {
		t.Errorf("Expected only the regular file, got %+v", result.Files)
	}
}

func TestWalk_SymlinkedRoot(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "real")
	if err := os.MkdirAll(filepath.Join(target, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(target, name), []byte("same"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(filepath.Join(target, "a"), filepath.Join(target, "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	link := filepath.Join(tmpDir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	result, err := Walk(context.Background(), osFs, link, nil)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("Expected 2 files under the linked root, got %+v", result.Files)
	}
	for _, f := range result.Files {
		if filepath.Dir(f.Path) != link {
			t.Errorf("Expected %s under %s", f.Path, link)
		}
	}
	if len(result.EmptyDirs) != 1 || result.EmptyDirs[0] != filepath.Join(link, "sub") {
		t.Errorf("Expected %s/sub as empty dir, got %v", link, result.EmptyDirs)
	}
}

func TestWalk_Cancelled(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Walk(ctx, osFs, tmpDir, nil); err == nil {
		t.Error("Walk should fail on a cancelled context")
	}
}

func TestWalk_FileInfoMetadata(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")

	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result, err := Walk(context.Background(), osFs, tmpDir, []string{})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if len(result.Files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(result.Files))
	}

	fileInfo := result.Files[0]

	// Check path is absolute
	if !filepath.IsAbs(fileInfo.Path) {
		t.Error("File path should be absolute")
	}

	// Check size
	if fileInfo.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), fileInfo.Size)
	}
}

func TestWalk_GlobPatternExclusion(t *testing.T) {
	tmpDir := t.TempDir()

	files := map[string]bool{
		"test.go":      false, // should be included
		"test_test.go": true,  // should be excluded (*_test.go)
		"main_test.go": true,  // should be excluded (*_test.go)
		"main.go":      false, // should be included
	}

	for f := range files {
		fullPath := filepath.Join(tmpDir, f)
		if err := os.WriteFile(fullPath, []byte("content"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}

	exclusions := []string{"*_test.go"}

	result, err := Walk(context.Background(), osFs, tmpDir, exclusions)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	// Should only include test.go and main.go
	if len(result.Files) != 2 {
		t.Errorf("Expected 2 files, got %d", len(result.Files))
	}
}

func TestCount(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for i := 0; i < 5; i++ {
		dir := fmt.Sprintf("/root/d%d", i)
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fsys, dir+"/f", []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	n, complete := Count(context.Background(), fsys, "/root", nil, time.Second)
	if !complete {
		t.Error("Count should complete well within the wait")
	}
	if n != 5 {
		t.Errorf("Expected 5 files, got %d", n)
	}
}

func TestCount_MissingRoot(t *testing.T) {
	n, complete := Count(context.Background(), afero.NewMemMapFs(), "/missing", nil, time.Second)
	if complete {
		t.Error("Count of a missing root should not report completion")
	}
	if n != 0 {
		t.Errorf("Expected 0, got %d", n)
	}
}

func makeCandidates(t *testing.T, dir string, count int) []Candidate {
	t.Helper()
	candidates := make([]Candidate, 0, count)
	for i := 0; i < count; i++ {
		filename := filepath.Join(dir, fmt.Sprintf("file%d.txt", i))
		content := []byte(fmt.Sprintf("content-%d", i))
		if err := os.WriteFile(filename, content, 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		candidates = append(candidates, Candidate{ID: int64(i + 1), Path: filename, Size: int64(len(content))})
	}
	return candidates
}

func TestHashStage_AllFilesProcessed(t *testing.T) {
	candidates := makeCandidates(t, t.TempDir(), 10)

	// Hash files with 4 workers
	result, err := HashStage(context.Background(), osFs, hash.StageBegin, candidates, 4, nil)
	if err != nil {
		t.Fatalf("HashStage failed: %v", err)
	}

	// All files should be hashed
	if len(result.Hashes) != len(candidates) {
		t.Errorf("Expected %d hashes, got %d", len(candidates), len(result.Hashes))
	}

	// All hashes should be non-empty
	for id, h := range result.Hashes {
		if h == "" {
			t.Errorf("Hash for candidate %d is empty", id)
		}
	}
}

func TestHashStage_ErrorHandling(t *testing.T) {
	tmpDir := t.TempDir()

	// Create one valid file and reference one nonexistent file
	validFile := filepath.Join(tmpDir, "valid.txt")
	if err := os.WriteFile(validFile, []byte("content"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	candidates := []Candidate{
		{ID: 1, Path: validFile, Size: 7},
		{ID: 2, Path: "/nonexistent/file.txt", Size: 7},
	}

	result, err := HashStage(context.Background(), osFs, hash.StageReverse, candidates, 2, nil)
	if err != nil {
		t.Fatalf("HashStage should not fail completely: %v", err)
	}

	// Valid file should be hashed
	if _, ok := result.Hashes[1]; !ok {
		t.Error("Valid file should be hashed")
	}
	if _, ok := result.Hashes[2]; ok {
		t.Error("Missing file should not be hashed")
	}

	// Should have one error
	if len(result.Errors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(result.Errors))
	}
}

func TestHashStage_Concurrency(t *testing.T) {
	candidates := makeCandidates(t, t.TempDir(), 100)

	// Hash with different worker counts
	var reference map[int64]string
	for _, workers := range []int{1, 2, 4, 8} {
		result, err := HashStage(context.Background(), osFs, hash.StageFull, candidates, workers, nil)
		if err != nil {
			t.Fatalf("HashStage with %d workers failed: %v", workers, err)
		}

		if len(result.Hashes) != len(candidates) {
			t.Errorf("Workers=%d: Expected %d hashes, got %d", workers, len(candidates), len(result.Hashes))
		}
		if reference == nil {
			reference = result.Hashes
			continue
		}
		for id, h := range result.Hashes {
			if reference[id] != h {
				t.Errorf("Workers=%d: hash for %d differs between runs", workers, id)
			}
		}
	}
}

func TestHashStage_Cancelled(t *testing.T) {
	candidates := makeCandidates(t, t.TempDir(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := HashStage(ctx, osFs, hash.StageBegin, candidates, 2, nil); err == nil {
		t.Error("HashStage should fail on a cancelled context")
	}
}
