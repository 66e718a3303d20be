package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

type FileInfo struct {
	Path string
	Size int64
}

type WalkResult struct {
	Files     []FileInfo
	EmptyDirs []string
	Errors    []error
}

// Walk lists every regular file under rootPath and every directory with no
// entries at all. Unreadable entries below the root are recorded in Errors
// and skipped; an unreadable root is fatal. A symlinked root is followed,
// symlinks below it never are.
func Walk(ctx context.Context, fsys afero.Fs, rootPath string, exclusions []string) (*WalkResult, error) {
	result := &WalkResult{
		Files:     make([]FileInfo, 0),
		EmptyDirs: make([]string, 0),
		Errors:    make([]error, 0),
	}

	info, err := fsys.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() {
			result.Files = append(result.Files, FileInfo{Path: rootPath, Size: info.Size()})
		}
		return result, nil
	}

	w := &walk{fsys: fsys, root: rootPath, exclusions: exclusions, result: result}
	if err := w.dir(ctx, rootPath); err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return result, nil
}

type walk struct {
	fsys       afero.Fs
	root       string
	exclusions []string
	result     *WalkResult
}

func (w *walk) dir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := afero.ReadDir(w.fsys, path)
	if err != nil {
		// If error is on the root path, return it (don't continue walking)
		if path == w.root {
			return err
		}
		w.result.Errors = append(w.result.Errors, err)
		return nil
	}

	if len(entries) == 0 {
		w.result.EmptyDirs = append(w.result.EmptyDirs, path)
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		childPath := filepath.Join(path, entry.Name())
		relPath, err := filepath.Rel(w.root, childPath)
		if err != nil {
			w.result.Errors = append(w.result.Errors, err)
			continue
		}

		if shouldExclude(relPath, entry, w.exclusions) {
			continue
		}

		switch {
		case entry.IsDir():
			if err := w.dir(ctx, childPath); err != nil {
				return err
			}
		case entry.Mode().IsRegular():
			w.result.Files = append(w.result.Files, FileInfo{
				Path: childPath,
				Size: entry.Size(),
			})
		}
	}
	return nil
}

func shouldExclude(relPath string, info os.FileInfo, exclusions []string) bool {
	for _, pattern := range exclusions {
		// Handle directory exclusions (patterns ending with /)
		if strings.HasSuffix(pattern, "/") {
			if !info.IsDir() {
				continue
			}
			dirPattern := strings.TrimSuffix(pattern, "/")
			if matched, _ := filepath.Match(dirPattern, info.Name()); matched || info.Name() == dirPattern {
				return true
			}
			continue
		}

		// Handle file pattern exclusions
		matched, err := filepath.Match(pattern, filepath.Base(relPath))
		if err == nil && matched {
			return true
		}
		// Also try matching against the full relative path for patterns with /
		if strings.Contains(pattern, "/") {
			matched, err := filepath.Match(pattern, relPath)
			if err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Count pre-scans rootPath and returns the number of regular files. If the
// scan takes longer than wait it is abandoned and the partial count is
// returned with complete set to false.
func Count(ctx context.Context, fsys afero.Fs, rootPath string, exclusions []string, wait time.Duration) (n int64, complete bool) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var count atomic.Int64
	done := make(chan bool, 1)
	go func() {
		done <- countDir(ctx, fsys, rootPath, rootPath, exclusions, &count) == nil
	}()

	select {
	case ok := <-done:
		return count.Load(), ok
	case <-ctx.Done():
		return count.Load(), false
	}
}

func countDir(ctx context.Context, fsys afero.Fs, root, path string, exclusions []string, count *atomic.Int64) error {
	entries, err := afero.ReadDir(fsys, path)
	if err != nil {
		if path == root {
			return err
		}
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		childPath := filepath.Join(path, entry.Name())
		relPath, _ := filepath.Rel(root, childPath)
		if shouldExclude(relPath, entry, exclusions) {
			continue
		}
		if entry.IsDir() {
			if err := countDir(ctx, fsys, root, childPath, exclusions, count); err != nil {
				return err
			}
		} else if entry.Mode().IsRegular() {
			count.Add(1)
		}
	}
	return nil
}
