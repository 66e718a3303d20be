package hash

import (
	"fmt"

	"github.com/spf13/afero"
)

// Stage is one of the escalating content signatures used to split
// candidate duplicates.
type Stage int

const (
	StageSize Stage = iota
	StageBegin
	StageReverse
	StageFull
)

// Func computes a stage signature for the file at path.
type Func func(fsys afero.Fs, path string, size int64) (string, error)

type stageSpec struct {
	name   string
	column string
	fn     Func
}

var stages = [...]stageSpec{
	StageSize:    {name: "size", column: "size"},
	StageBegin:   {name: "begin", column: "beg_hash", fn: BeginHash},
	StageReverse: {name: "reverse", column: "rev_hash", fn: ReverseHash},
	StageFull:    {name: "full", column: "full_hash", fn: FullHash},
}

func (s Stage) valid() bool {
	return s >= StageSize && s <= StageFull
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stages[s].name
}

// Column is the store column holding this stage's value.
func (s Stage) Column() string {
	return stages[s].column
}

// Prev returns the stage whose collisions select candidates for s.
func (s Stage) Prev() Stage {
	if s <= StageSize {
		return StageSize
	}
	return s - 1
}

// Pipeline returns the hashing stages to run, in order. The full-content
// stage is only included for exhaustive verification.
func Pipeline(exhaustive bool) []Stage {
	if exhaustive {
		return []Stage{StageBegin, StageReverse, StageFull}
	}
	return []Stage{StageBegin, StageReverse}
}

// Final is the stage whose groups are treated as proven duplicates.
func Final(exhaustive bool) Stage {
	if exhaustive {
		return StageFull
	}
	return StageReverse
}

// Compute runs the signature function registered for stage.
func Compute(stage Stage, fsys afero.Fs, path string, size int64) (string, error) {
	if !stage.valid() || stages[stage].fn == nil {
		return "", fmt.Errorf("stage %s has no content hash", stage)
	}
	return stages[stage].fn(fsys, path, size)
}
