// Package chunked implements the length-prefixed framing used by every
// file depdb writes: a 4-byte big-endian length followed by that many
// payload bytes.
//
// The format is intentionally tolerant of a truncated trailing chunk — a
// process killed mid-write leaves at most one incomplete chunk, which
// ReadChunks drops silently rather than treating as an error. This is how
// the journal survives a crash: every completed append is a complete
// chunk, and only the very last one can ever be partial.
package chunked

import (
	"bufio"
	"encoding/binary"
	"io"
)

// WriteChunk writes len(payload) as a 4-byte big-endian prefix followed by
// payload, then flushes w if it implements an explicit Flush method (such
// as a *bufio.Writer). An *os.File has no Flush method; callers writing to
// one directly call Sync themselves where durability matters.
func WriteChunk(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

type flusher interface {
	Flush() error
}

// ReadChunks reads successive chunks from r until EOF, calling fn with each
// payload in order. A trailing chunk whose length prefix or payload is
// incomplete is dropped without error — this is the crash-tolerance
// contract, not a bug to surface to the caller. Any other read error is
// returned.
//
// fn's returned error, if non-nil, stops iteration and is returned from
// ReadChunks unchanged (so a caller parsing record bodies can abort a
// replay on the first bad record without ReadChunks itself needing to know
// about record semantics).
func ReadChunks(r io.Reader, fn func(payload []byte) error) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if isTruncated(err) {
				return nil
			}
			return err
		}

		length := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			if isTruncated(err) {
				return nil
			}
			return err
		}

		if err := fn(payload); err != nil {
			return err
		}
	}
}

// isTruncated reports whether err indicates the stream ended mid-chunk
// (as opposed to a genuine I/O failure partway through a read).
func isTruncated(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
