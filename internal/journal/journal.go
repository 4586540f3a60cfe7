// Package journal implements the append-only, crash-tolerant log of
// completed build results (component C4). Every append is a single
// length-prefixed chunk that is flushed before Append returns, so a
// process killed mid-run leaves at most one incomplete trailing chunk,
// which Replay drops rather than applying.
package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/steveyegge/depdb/internal/chunked"
	"github.com/steveyegge/depdb/internal/codec"
	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

// ErrVersionMismatch is returned when a journal's version stamp doesn't
// match the user_version the caller opened with.
var ErrVersionMismatch = errors.New("journal: version stamp mismatch")

// ErrCorrupt is returned when a journal's witness table or a non-trailing
// chunk fails to parse.
var ErrCorrupt = errors.New("journal: corrupt file")

func stamp(userVersion int) string {
	return fmt.Sprintf("SHAKE-JOURNAL-1-%d\r\n", userVersion)
}

// Journal is an open append-only log. The zero value is not usable;
// construct one with Open.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	table  *witness.Table
	closed bool
}

// Open truncates or creates the file at path, writes the version stamp and
// witness-table chunk, and returns a handle ready for Append.
func Open(path string, userVersion int, table *witness.Table) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if _, err := io.WriteString(f, stamp(userVersion)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: write version stamp: %w", err)
	}

	var header bytes.Buffer
	if err := table.WriteHeader(&header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: encode witness table: %w", err)
	}
	if err := chunked.WriteChunk(f, header.Bytes()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: write witness chunk: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: sync: %w", err)
	}

	return &Journal{file: f, path: path, table: table}, nil
}

// Append serializes (key, info) against the journal's witness table and
// writes it as one flushed chunk. Concurrent callers are serialized by the
// journal's own mutex. Append is a no-op once the journal has been closed.
func (j *Journal) Append(key model.Key, info model.Info) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	var buf bytes.Buffer
	if err := codec.EncodeEntry(&buf, j.table, key, info); err != nil {
		return fmt.Errorf("journal: encode entry: %w", err)
	}
	if err := chunked.WriteChunk(j.file, buf.Bytes()); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	return j.file.Sync()
}

// Close closes the file handle and unlinks it: the snapshot that close
// triggers at the Database layer now subsumes everything in this journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	closeErr := j.file.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		if closeErr == nil {
			closeErr = fmt.Errorf("journal: remove %s: %w", j.path, err)
		}
	}
	return closeErr
}

// Entry is one (key, info) record recovered by Replay.
type Entry struct {
	Key  model.Key
	Info model.Info
}

// Replay reads the journal at path and returns every entry it contains, in
// append order (a key appearing twice means the later entry is the one
// that should win — replaying the list into a map via plain overwrite
// achieves that). If path does not exist, Replay returns (nil, nil): no
// journal is not an error.
//
// If the file exists but cannot even be opened (permissions, a transient
// FS error), if its version stamp does not match userVersion, or if any
// chunk other than a truncated trailing one fails to parse, Replay logs a
// warning naming path and the underlying error and returns (nil, nil) —
// per depdb's "reads are defensive" policy, a broken or inaccessible
// journal is never worse than no journal. Replay never returns a non-nil
// error; the error result exists for symmetry with the rest of the read
// path and to leave room for a future distinction callers must act on.
func Replay(path string, userVersion int, table *witness.Table) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		log.Printf("depdb: journal %s: %v; discarding and proceeding without it", path, err)
		return nil, nil
	}
	defer func() { _ = f.Close() }()

	entries, err := replay(f, userVersion, table)
	if err != nil {
		log.Printf("depdb: journal %s: %v; discarding and proceeding without it", path, err)
		return nil, nil
	}
	return entries, nil
}

func replay(r io.Reader, userVersion int, table *witness.Table) ([]Entry, error) {
	want := stamp(userVersion)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionMismatch, err)
	}
	if string(got) != want {
		return nil, ErrVersionMismatch
	}

	var rt *witness.ReadTable
	var entries []Entry
	first := true

	err := chunked.ReadChunks(r, func(payload []byte) error {
		br := bytes.NewReader(payload)
		if first {
			first = false
			var err error
			rt, err = witness.ReadHeader(br, table)
			if err != nil {
				return fmt.Errorf("%w: witness header: %v", ErrCorrupt, err)
			}
			return nil
		}
		key, info, err := codec.DecodeEntry(br, rt)
		if err != nil {
			return fmt.Errorf("%w: entry: %v", ErrCorrupt, err)
		}
		entries = append(entries, Entry{Key: key, Info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("%w: missing witness chunk", ErrCorrupt)
	}
	return entries, nil
}
