package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

func testTable() *witness.Table {
	b := witness.NewBuilder()
	b.Register("string", "", func(v any) ([]byte, error) {
		return []byte(v.(string)), nil
	}, func(data []byte) (any, error) {
		return string(data), nil
	})
	return b.Freeze()
}

func TestAppendThenReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)

	require.NoError(t, j.Append("a", model.Info{Value: "va", Time: 1, RealTime: 1}))
	require.NoError(t, j.Append("b", model.Info{Value: "vb", Time: 2, RealTime: 2}))

	entries, err := Replay(path, 1, table)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "va", entries[0].Info.Value)
	assert.Equal(t, "b", entries[1].Key)
}

func TestReplayIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	require.NoError(t, j.Append("k", model.Info{Value: "v1", Time: 1, RealTime: 1}))
	require.NoError(t, j.Append("k", model.Info{Value: "v2", Time: 2, RealTime: 2}))

	first, err := Replay(path, 1, table)
	require.NoError(t, err)
	second, err := Replay(path, 1, table)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCloseUnlinksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	require.NoError(t, j.Close())
	_, statErr = os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAppendAfterCloseIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.NoError(t, j.Append("x", model.Info{Value: "v"}))
}

func TestReplayMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	entries, err := Replay(filepath.Join(dir, "nonexistent.journal"), 1, testTable())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestReplayVersionMismatchDropsJournal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	require.NoError(t, j.Append("k", model.Info{Value: "v"}))
	require.NoError(t, j.file.Sync())

	entries, err := Replay(path, 2, table)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestReplayTruncatedTrailingChunkDropsLastRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	require.NoError(t, j.Append("a", model.Info{Value: "va"}))
	require.NoError(t, j.Append("b", model.Info{Value: "vb"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	entries, err := Replay(path, 1, table)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Key)
}

func TestReplayCorruptNonTrailingChunkDropsWholeJournal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	table := testTable()

	j, err := Open(path, 1, table)
	require.NoError(t, err)
	require.NoError(t, j.Append("a", model.Info{Value: "va"}))
	require.NoError(t, j.Close())

	// Corrupt a byte inside the witness chunk (right after the stamp),
	// which is not a truncation and must be reported as ErrCorrupt.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append([]byte(nil), data...)
	stampLen := len(stamp(1))
	corrupted[stampLen+4] ^= 0xFF
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))

	entries, err := Replay(path, 1, table)
	require.NoError(t, err)
	assert.Nil(t, entries)
}
