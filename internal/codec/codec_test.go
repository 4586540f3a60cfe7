package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

func stringTable() *witness.Table {
	b := witness.NewBuilder()
	b.Register("string", "", func(v any) ([]byte, error) {
		return []byte(v.(string)), nil
	}, func(data []byte) (any, error) {
		return string(data), nil
	})
	return b.Freeze()
}

func TestEncodeDecodeInfoRoundTrip(t *testing.T) {
	table := stringTable()
	info := model.Info{
		Value:    "v1",
		Time:     5,
		RealTime: 7,
		Depends: []model.DepGroup{
			{"dep-a", "dep-b"},
			{"dep-c"},
		},
		Execution: 1.5,
		Traces: []model.Trace{
			{Label: "compile", Start: 0, End: 1.2},
			{Label: "link", Start: 1.2, End: 1.5},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, table.WriteHeader(&buf))
	require.NoError(t, EncodeInfo(&buf, table, info))

	rt, err := witness.ReadHeader(&buf, table)
	require.NoError(t, err)

	got, err := DecodeInfo(&buf, rt)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	table := stringTable()
	info := model.Info{Value: "val", Time: 1, RealTime: 1}

	var buf bytes.Buffer
	require.NoError(t, table.WriteHeader(&buf))
	require.NoError(t, EncodeEntry(&buf, table, "my-key", info))

	rt, err := witness.ReadHeader(&buf, table)
	require.NoError(t, err)

	key, got, err := DecodeEntry(&buf, rt)
	require.NoError(t, err)
	assert.Equal(t, "my-key", key)
	assert.Equal(t, info, got)
}

func TestEncodeDecodeInfoEmptyDepends(t *testing.T) {
	table := stringTable()
	info := model.Info{Value: "v", Time: 0, RealTime: 0}

	var buf bytes.Buffer
	require.NoError(t, table.WriteHeader(&buf))
	require.NoError(t, EncodeInfo(&buf, table, info))

	rt, err := witness.ReadHeader(&buf, table)
	require.NoError(t, err)

	got, err := DecodeInfo(&buf, rt)
	require.NoError(t, err)
	assert.Nil(t, got.Depends)
	assert.Nil(t, got.Traces)
	assert.Equal(t, "v", got.Value)
}
