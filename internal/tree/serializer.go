package tree

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type SerializedFingerprint struct {
	Generator string    `json:"generator"`
	Created   time.Time `json:"created"`
	Roots     []string  `json:"roots"`
	*Fingerprint
}

// Save writes fp for the given analysis roots as JSON.
func Save(fp *Fingerprint, roots []string, path string) error {
	serialized := SerializedFingerprint{
		Generator:   "dedupe-go",
		Created:     time.Now(),
		Roots:       roots,
		Fingerprint: fp,
	}

	data, err := json.MarshalIndent(serialized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func Load(path string) (*SerializedFingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	serialized := SerializedFingerprint{Fingerprint: &Fingerprint{}}
	if err := json.Unmarshal(data, &serialized); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fingerprint: %w", err)
	}
	return &serialized, nil
}
