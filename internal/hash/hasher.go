package hash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

const (
	bufferSize = 32 * 1024 // 32KB buffer for streaming
	sampleSize = 1024      // bytes read per begin/middle/end sample
)

// EmptyHash is the digest assigned at every stage to zero-byte files.
var EmptyHash = hex.EncodeToString(xxhash.New().Sum(nil))

// EmptyDirHash is the shared key of the empty-directory duplicate group.
var EmptyDirHash = "dir:" + EmptyHash

// BeginHash hashes the first sampleSize bytes of a file.
func BeginHash(fsys afero.Fs, path string, size int64) (string, error) {
	if size == 0 {
		return EmptyHash, nil
	}
	file, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return sample(file, 0)
}

// ReverseHash combines a sample near the middle of the file with a sample
// at its end, formatted as "end:mid".
func ReverseHash(fsys afero.Fs, path string, size int64) (string, error) {
	if size == 0 {
		return EmptyHash, nil
	}
	file, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mid, err := sample(file, max(0, size/2-sampleSize/2))
	if err != nil {
		return "", err
	}
	end, err := sample(file, max(0, size-sampleSize))
	if err != nil {
		return "", err
	}
	return end + ":" + mid, nil
}

// FullHash computes the xxHash of the whole file using streaming reads.
func FullHash(fsys afero.Fs, path string, size int64) (string, error) {
	if size == 0 {
		return EmptyHash, nil
	}
	file, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	h := xxhash.New()
	buf := make([]byte, bufferSize)

	for {
		n, err := file.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func sample(r io.ReaderAt, offset int64) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, offset, sampleSize)); err != nil {
		return "", fmt.Errorf("failed to read sample at %d: %w", offset, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// XXHashFunc is a custom hash function adapter for go-merkletree
// It converts []byte input to xxHash []byte output
func XXHashFunc(data []byte) ([]byte, error) {
	h := xxhash.New()
	h.Write(data)
	sum := h.Sum64()

	// Convert uint64 to []byte in big-endian format
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sum)
	return buf, nil
}

// KeyOf returns the hex xxHash of s. Used to name stores after their path set.
func KeyOf(s string) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, xxhash.Sum64String(s))
	return hex.EncodeToString(buf)
}
