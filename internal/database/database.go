// Package database implements the in-memory status map, the request/finish
// protocol, and the snapshot+journal durability story that together make up
// the persistent dependency database (component C5). It is the package
// every other layer of depdb is built to serve: barrier gives it a waiting
// primitive, witness and chunked give it a wire format, journal gives it
// crash tolerance.
package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/steveyegge/depdb/internal/barrier"
	"github.com/steveyegge/depdb/internal/chunked"
	"github.com/steveyegge/depdb/internal/codec"
	"github.com/steveyegge/depdb/internal/journal"
	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

// ErrProtocol is returned by Finished when called for a key that is not
// currently Building — either it was never requested, or Finished has
// already been called for it once.
var ErrProtocol = errors.New("database: finished called out of state")

func stamp(userVersion int) string {
	return fmt.Sprintf("SHAKE-DATABASE-1-%d\r\n", userVersion)
}

type statusKind int

const (
	statusLoaded statusKind = iota
	statusBuilding
	statusBuilt
)

// status is the in-memory record for one key: Loaded carries info, Building
// carries the barrier waiters block on plus any prior Loaded info (so a
// no-change rebuild can keep the old validation time), Built carries the
// final info for this run.
type status struct {
	kind    statusKind
	info    model.Info
	barrier *barrier.Barrier
	prior   *model.Info
}

// Database is an open dependency database. The zero value is not usable;
// construct one with Open.
type Database struct {
	mu          sync.Mutex
	statuses    map[model.Key]status
	timestamp   model.Time
	journal     *journal.Journal
	table       *witness.Table
	path        string
	userVersion int
}

// Open loads the snapshot at <path>.database, replays and discards any
// <path>.journal left by a prior crash, and opens a fresh journal. A
// corrupt or missing snapshot is logged and treated as an empty database:
// reads are defensive, so a broken cache is never worse than no cache.
func Open(path string, userVersion int, table *witness.Table) (*Database, error) {
	snapPath := path + ".database"
	journalPath := path + ".journal"

	snapTime, statuses, err := readSnapshot(snapPath, userVersion, table)
	if err != nil {
		log.Printf("depdb: snapshot %s: %v; starting cold", snapPath, err)
		snapTime, statuses = 0, make(map[model.Key]status)
	}
	timestamp := snapTime + 1

	if _, err := os.Stat(journalPath); err == nil {
		// journal.Replay already treats a broken or inaccessible journal
		// defensively (logs and returns nil entries); an error here would
		// mean its contract changed underfoot, so fall back the same way
		// rather than failing Open over a read-path problem (§7: reads are
		// defensive, only writes must propagate).
		entries, err := journal.Replay(journalPath, userVersion, table)
		if err != nil {
			log.Printf("depdb: journal %s: %v; proceeding without replaying it", journalPath, err)
			entries = nil
		}
		for _, e := range entries {
			statuses[e.Key] = status{kind: statusLoaded, info: e.Info}
		}
		if err := os.Remove(journalPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("database: remove stale journal %s: %w", journalPath, err)
		}
		if err := writeSnapshot(snapPath, userVersion, timestamp, statuses, table); err != nil {
			return nil, fmt.Errorf("database: write post-replay snapshot: %w", err)
		}
		timestamp++
	}

	j, err := journal.Open(journalPath, userVersion, table)
	if err != nil {
		return nil, fmt.Errorf("database: open journal: %w", err)
	}

	return &Database{
		statuses:    statuses,
		timestamp:   timestamp,
		journal:     j,
		table:       table,
		path:        path,
		userVersion: userVersion,
	}, nil
}

// Close writes the current status map back as a fresh snapshot and closes
// the journal (which unlinks it, since the snapshot now subsumes it).
func (db *Database) Close() error {
	db.mu.Lock()
	statuses := db.statuses
	timestamp := db.timestamp
	db.mu.Unlock()

	if err := writeSnapshot(db.path+".database", db.userVersion, timestamp, statuses, db.table); err != nil {
		return fmt.Errorf("database: write snapshot: %w", err)
	}
	return db.journal.Close()
}

// Entries returns a snapshot of every key this database currently has
// durable information for (Loaded or Built; a key still Building has no
// confirmed value yet and is omitted). It is intended for status reporting,
// not for the build loop itself.
func (db *Database) Entries() map[model.Key]model.Info {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make(map[model.Key]model.Info, len(db.statuses))
	for k, st := range db.statuses {
		if st.kind == statusLoaded || st.kind == statusBuilt {
			out[k] = st.info.Clone()
		}
	}
	return out
}

// ResponseKind discriminates the three shapes Request can return.
type ResponseKind int

const (
	// Execute means the caller must run every key in Response.Keys and call
	// Finished for each before calling Request again.
	Execute ResponseKind = iota
	// Block means the caller must call Response.Wait, which blocks until at
	// least one in-flight build completes, then call Request again.
	Block
	// Ready means every requested key resolved; Response.Values holds one
	// value per requested key, in the same order.
	Ready
)

// Response is the outcome of one Request call. Execute takes precedence
// over Block, which takes precedence over Ready: if resolving any
// requested key (or any of its transitive dependencies) needs an
// execution or uncovers a live build, the whole response reports that
// instead of partially reporting Ready values.
type Response struct {
	Kind   ResponseKind
	Keys   []model.Key
	Wait   func(ctx context.Context) error
	Values []model.Value
}

// ValidStored lets the caller veto a Loaded value — for example because
// the file it names no longer matches the recorded stamp — forcing a
// rebuild even though the database has no reason of its own to distrust it.
type ValidStored func(k model.Key, v model.Value) bool

// Request resolves every key in keys under a single hold of the status-map
// mutex. The traversal is pure CPU: no I/O, no blocking, so it is safe to
// call from as many goroutines as the caller likes.
func (db *Database) Request(validStored ValidStored, keys []model.Key) Response {
	db.mu.Lock()
	defer db.mu.Unlock()

	var execs []model.Key
	var bars []*barrier.Barrier
	values := make([]model.Value, len(keys))

	for i, k := range keys {
		r := db.resolveKey(k, validStored)
		execs = append(execs, r.executeKeys...)
		bars = append(bars, r.barriers...)
		if r.ready {
			values[i] = r.value
		}
	}

	if len(execs) > 0 {
		return Response{Kind: Execute, Keys: execs}
	}
	if len(bars) > 0 {
		return Response{Kind: Block, Wait: func(ctx context.Context) error {
			return barrier.WaitAny(ctx, bars)
		}}
	}
	return Response{Kind: Ready, Values: values}
}

// resolution is the outcome of resolving one key: either it bottomed out
// ready with a (time, value), or it (and/or some of its dependencies)
// surfaced work the caller must do, named by executeKeys/barriers. The two
// are mutually exclusive.
type resolution struct {
	executeKeys []model.Key
	barriers    []*barrier.Barrier
	ready       bool
	time        model.Time
	value       model.Value
}

// resolveKey implements §4.5.3's f(k): the per-key dispatch on status.
func (db *Database) resolveKey(k model.Key, validStored ValidStored) resolution {
	st, ok := db.statuses[k]
	if !ok {
		db.statuses[k] = status{kind: statusBuilding, barrier: barrier.New()}
		return resolution{executeKeys: []model.Key{k}}
	}

	switch st.kind {
	case statusBuilding:
		return resolution{barriers: []*barrier.Barrier{st.barrier}}
	case statusBuilt:
		return resolution{ready: true, time: st.info.Time, value: st.info.Value}
	case statusLoaded:
		if !validStored(k, st.info.Value) {
			prior := st.info
			db.statuses[k] = status{kind: statusBuilding, barrier: barrier.New(), prior: &prior}
			return resolution{executeKeys: []model.Key{k}}
		}
		return db.validateHistory(k, st.info, st.info.Depends, validStored)
	default:
		panic("database: unreachable status kind")
	}
}

// validateHistory implements §4.5.4: compare each dependency group's
// produced times against i.Time, in order, short-circuiting on the first
// group that forces a rebuild or surfaces pending work.
func (db *Database) validateHistory(k model.Key, i model.Info, groups []model.DepGroup, validStored ValidStored) resolution {
	if len(groups) == 0 {
		db.statuses[k] = status{kind: statusBuilt, info: i}
		return resolution{ready: true, time: i.Time, value: i.Value}
	}

	g, rest := groups[0], groups[1:]

	var execs []model.Key
	var bars []*barrier.Barrier
	maxTime := i.Time
	haveMax := false

	for _, dk := range g {
		r := db.resolveKey(dk, validStored)
		execs = append(execs, r.executeKeys...)
		bars = append(bars, r.barriers...)
		if r.ready {
			if !haveMax || r.time > maxTime {
				maxTime = r.time
				haveMax = true
			}
		}
	}

	if len(execs) > 0 || len(bars) > 0 {
		return resolution{executeKeys: execs, barriers: bars}
	}

	if !haveMax || maxTime <= i.Time {
		return db.validateHistory(k, i, rest, validStored)
	}

	prior := i
	db.statuses[k] = status{kind: statusBuilding, barrier: barrier.New(), prior: &prior}
	return resolution{executeKeys: []model.Key{k}}
}

// Finished implements §4.5.5: record k's completed build, preserving the
// prior validation time if the rebuild reproduced an equal value, append
// the record to the journal, then release any waiters. The append happens
// before the release so a waiter never observes a Built value that isn't
// yet durable.
func (db *Database) Finished(k model.Key, v model.Value, depends []model.DepGroup, duration float64, traces []model.Trace) error {
	db.mu.Lock()
	st, ok := db.statuses[k]
	if !ok || st.kind != statusBuilding {
		db.mu.Unlock()
		return ErrProtocol
	}

	info := model.Info{
		Value:     v,
		Time:      db.timestamp,
		Depends:   depends,
		RealTime:  db.timestamp,
		Execution: duration,
		Traces:    traces,
	}
	if st.prior != nil && valuesEqual(st.prior.Value, v) {
		info.Time = st.prior.Time
	}

	bar := st.barrier
	db.statuses[k] = status{kind: statusBuilt, info: info}
	db.mu.Unlock()

	if err := db.journal.Append(k, info); err != nil {
		return fmt.Errorf("database: append journal entry for %v: %w", k, err)
	}
	bar.Release()
	return nil
}

func valuesEqual(a, b model.Value) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// readSnapshot parses <path>.database. A missing file yields (0, empty,
// nil); any other read failure is returned so Open can log and proceed
// cold.
func readSnapshot(path string, userVersion int, table *witness.Table) (model.Time, map[model.Key]status, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, make(map[model.Key]status), nil
		}
		return 0, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	want := stamp(userVersion)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(f, got); err != nil {
		return 0, nil, fmt.Errorf("read version stamp: %w", err)
	}
	if string(got) != want {
		return 0, nil, fmt.Errorf("version stamp mismatch in %s", path)
	}

	var ts model.Time
	var rt *witness.ReadTable
	statuses := make(map[model.Key]status)
	chunkIdx := 0

	err = chunked.ReadChunks(f, func(payload []byte) error {
		defer func() { chunkIdx++ }()
		switch chunkIdx {
		case 0:
			if len(payload) != 8 {
				return fmt.Errorf("malformed timestamp chunk")
			}
			ts = model.Time(int64(binary.BigEndian.Uint64(payload)))
			return nil
		case 1:
			var err error
			rt, err = witness.ReadHeader(bytes.NewReader(payload), table)
			return err
		default:
			br := bytes.NewReader(payload)
			key, info, err := codec.DecodeEntry(br, rt)
			if err != nil {
				return err
			}
			statuses[key] = status{kind: statusLoaded, info: info}
			return nil
		}
	})
	if err != nil {
		return 0, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if chunkIdx < 2 {
		return 0, nil, fmt.Errorf("%s: missing timestamp or witness chunk", path)
	}
	return ts, statuses, nil
}

// writeSnapshot writes the whole-map serialization: a timestamp chunk, a
// witness-table chunk, then one chunk per included entry. Only Built/Loaded
// entries, and Building entries that carry prior info, are included; a
// Building entry with no prior (never yet completed) has nothing durable
// to write and is skipped.
func writeSnapshot(path string, userVersion int, timestamp model.Time, statuses map[model.Key]status, table *witness.Table) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(stamp(userVersion)); err != nil {
		return fmt.Errorf("write version stamp: %w", err)
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(int64(timestamp)))
	if err := chunked.WriteChunk(f, tsBuf[:]); err != nil {
		return fmt.Errorf("write timestamp chunk: %w", err)
	}

	var header bytes.Buffer
	if err := table.WriteHeader(&header); err != nil {
		return fmt.Errorf("encode witness table: %w", err)
	}
	if err := chunked.WriteChunk(f, header.Bytes()); err != nil {
		return fmt.Errorf("write witness chunk: %w", err)
	}

	for k, st := range statuses {
		var info model.Info
		switch {
		case st.kind == statusBuilt || st.kind == statusLoaded:
			info = st.info
		case st.kind == statusBuilding && st.prior != nil:
			info = *st.prior
		default:
			continue
		}

		var buf bytes.Buffer
		if err := codec.EncodeEntry(&buf, table, k, info); err != nil {
			return fmt.Errorf("encode entry for %v: %w", k, err)
		}
		if err := chunked.WriteChunk(f, buf.Bytes()); err != nil {
			return fmt.Errorf("write entry chunk for %v: %w", k, err)
		}
	}

	return f.Sync()
}

