package walker

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/progress"
)

// Candidate is a stored file that still collides after the previous stage.
type Candidate struct {
	ID   int64
	Path string
	Size int64
}

type HashResult struct {
	Hashes map[int64]string // candidate ID -> stage hash
	Errors []error
}

// HashStage computes one stage signature for every candidate using at most
// numWorkers concurrent readers. Files that cannot be read are reported in
// Errors and left out of Hashes. Only context cancellation fails the call.
func HashStage(ctx context.Context, fsys afero.Fs, stage hash.Stage, candidates []Candidate, numWorkers int, progressBar *progress.Bar) (*HashResult, error) {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	result := &HashResult{
		Hashes: make(map[int64]string, len(candidates)),
		Errors: make([]error, 0),
	}

	if len(candidates) == 0 {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	var mu sync.Mutex
	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := hash.Compute(stage, fsys, c.Path, c.Size)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", c.Path, err))
				return nil
			}
			result.Hashes[c.ID] = sum
			progressBar.Increment()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
