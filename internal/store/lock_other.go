//go:build !unix

package store

// FileLock is a no-op where flock is unavailable.
type FileLock struct{}

func Lock(path string) (*FileLock, error) {
	return &FileLock{}, nil
}

func TryLock(path string) (*FileLock, bool, error) {
	return &FileLock{}, true, nil
}

func (l *FileLock) Unlock() error {
	return nil
}
