package tree

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	merkletree "github.com/txaty/go-merkletree"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/store"
)

// Build computes the fingerprint of groups. Leaves are the groups in
// canonical form (size, hash and sorted paths), sorted so that the input
// order never matters.
func Build(groups []store.Group) (*Fingerprint, error) {
	fp := &Fingerprint{Groups: len(groups)}

	blocks := make([]groupBlock, 0, len(groups))
	for _, g := range groups {
		paths := append([]string(nil), g.Paths...)
		sort.Strings(paths)
		blocks = append(blocks, groupBlock(fmt.Sprintf("%d\x00%s\x00%s", g.Size, g.Hash, strings.Join(paths, "\x00"))))

		fp.Paths += len(paths)
		fp.TotalSize += g.Size * int64(len(paths))
		if len(paths) > 1 {
			fp.Reclaim += g.Size * int64(len(paths)-1)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return bytes.Compare(blocks[i], blocks[j]) < 0 })

	root, err := rootOf(blocks)
	if err != nil {
		return nil, err
	}
	fp.Root = hex.EncodeToString(root)
	return fp, nil
}

func rootOf(blocks []groupBlock) ([]byte, error) {
	// The merkle tree needs at least two leaves.
	switch len(blocks) {
	case 0:
		return hash.XXHashFunc([]byte("empty-tree"))
	case 1:
		return hash.XXHashFunc(blocks[0])
	}

	data := make([]merkletree.DataBlock, len(blocks))
	for i, b := range blocks {
		data[i] = b
	}
	t, err := merkletree.New(&merkletree.Config{
		HashFunc: hash.XXHashFunc,
		Mode:     merkletree.ModeTreeBuild,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return t.Root, nil
}
