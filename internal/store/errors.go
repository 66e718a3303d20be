package store

import "errors"

var (
	// ErrNotFound is returned by Open when no store file exists at the path.
	ErrNotFound = errors.New("store not found")

	// ErrInconsistent means a record carries a later-stage hash without its
	// prerequisite. Resolution cannot be trusted on such a store.
	ErrInconsistent = errors.New("store is inconsistent")
)
