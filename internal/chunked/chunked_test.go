package chunked

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("one"), []byte(""), []byte("three!")}
	for _, p := range payloads {
		require.NoError(t, WriteChunk(&buf, p))
	}

	var got [][]byte
	err := ReadChunks(&buf, func(payload []byte) error {
		cp := append([]byte(nil), payload...)
		got = append(got, cp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, p, got[i])
	}
}

func TestTruncatedLengthPrefixDropped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, []byte("complete")))
	full := buf.Bytes()

	// Truncate mid length-prefix of a second, never-written chunk.
	truncated := append(append([]byte(nil), full...), 0x00, 0x00)

	var got [][]byte
	err := ReadChunks(bytes.NewReader(truncated), func(payload []byte) error {
		got = append(got, payload)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("complete"), got[0])
}

func TestTruncatedPayloadDropped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, []byte("complete")))
	require.NoError(t, WriteChunk(&buf, []byte("second-chunk-payload")))
	full := buf.Bytes()

	// Cut off partway through the second chunk's payload.
	cut := len(full) - 5
	truncated := full[:cut]

	var got [][]byte
	err := ReadChunks(bytes.NewReader(truncated), func(payload []byte) error {
		got = append(got, payload)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("complete"), got[0])
}

func TestEmptyStreamYieldsNoChunks(t *testing.T) {
	var called bool
	err := ReadChunks(bytes.NewReader(nil), func(payload []byte) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestCallbackErrorAbortsAndPropagates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, []byte("a")))
	require.NoError(t, WriteChunk(&buf, []byte("b")))

	sentinel := errors.New("bad record")
	seen := 0
	err := ReadChunks(&buf, func(payload []byte) error {
		seen++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, seen)
}

func TestEmptyPayloadChunk(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, nil))

	var got [][]byte
	err := ReadChunks(&buf, func(payload []byte) error {
		got = append(got, payload)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0])
}
