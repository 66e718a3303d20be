//go:build unix

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis_key.lock")

	l, err := Lock(path)
	require.NoError(t, err)

	_, ok, err := TryLock(path)
	require.NoError(t, err)
	assert.False(t, ok, "second lock on a held key should fail")

	require.NoError(t, l.Unlock())

	l2, ok, err := TryLock(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l2.Unlock())
	require.NoError(t, l2.Unlock())
}
