package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depdb.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestSecondAcquireIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depdb.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrLockBusy)
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depdb.lock")

	l1, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l1.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
