// Package witness implements the type registry that lets heterogeneous key
// and value types share one binary format.
//
// A Table is an ordered list of (tag, marshal, unmarshal) registrations. It
// is written to disk once, ahead of the records that use it, as the list of
// tags; every subsequent record is prefixed by its small integer index into
// that list rather than repeating the tag string. On read, the table is
// parsed first so indices can be resolved back to the registered
// unmarshaler before any record is decoded.
package witness

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// ErrSchema is returned when a tag read from disk was never registered in
// the Table doing the reading.
var ErrSchema = errors.New("witness: unregistered type tag")

// Marshaler converts a concrete value to bytes.
type Marshaler func(v any) ([]byte, error)

// Unmarshaler converts bytes back to a concrete value.
type Unmarshaler func(data []byte) (any, error)

type registration struct {
	tag   string
	typ   reflect.Type
	marsh Marshaler
	unmar Unmarshaler
}

// Builder accumulates registrations before a Table is frozen. Registration
// order determines wire indices, so it must be deterministic across
// processes that will read each other's snapshots.
type Builder struct {
	regs   []registration
	tagIdx map[string]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{tagIdx: make(map[string]int)}
}

// Register adds a type under tag, identified at encode time by the runtime
// type of sample (a zero value or representative instance of the concrete
// key/value type). Registering the same tag twice panics: this is a
// programming error caught at process startup, not a runtime condition to
// recover from.
func (b *Builder) Register(tag string, sample any, marsh Marshaler, unmar Unmarshaler) *Builder {
	if _, dup := b.tagIdx[tag]; dup {
		panic(fmt.Sprintf("witness: tag %q registered twice", tag))
	}
	b.tagIdx[tag] = len(b.regs)
	b.regs = append(b.regs, registration{tag: tag, typ: reflect.TypeOf(sample), marsh: marsh, unmar: unmar})
	return b
}

// Freeze produces an immutable Table from the accumulated registrations.
// Once frozen, a Table never changes shape: that is what makes its wire
// format stable across a snapshot write and the next process's read.
func (b *Builder) Freeze() *Table {
	regs := make([]registration, len(b.regs))
	copy(regs, b.regs)
	tagIdx := make(map[string]int, len(b.tagIdx))
	for k, v := range b.tagIdx {
		tagIdx[k] = v
	}
	typeIdx := make(map[reflect.Type]int, len(regs))
	for i, r := range regs {
		typeIdx[r.typ] = i
	}
	return &Table{regs: regs, tagIdx: tagIdx, typeIdx: typeIdx}
}

// Table is a frozen, ordered type registry.
type Table struct {
	regs    []registration
	tagIdx  map[string]int
	typeIdx map[reflect.Type]int
}

// IndexOf returns the wire index for tag and whether it is registered.
func (t *Table) IndexOf(tag string) (int, bool) {
	i, ok := t.tagIdx[tag]
	return i, ok
}

// WriteHeader writes the ordered list of tags: a count followed by each
// length-prefixed tag string. This is the "witness chunk" referenced by
// journal and snapshot formats (it is written as the payload of one
// chunked.WriteChunk call by those callers).
func (t *Table) WriteHeader(w io.Writer) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(t.regs)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	for _, r := range t.regs {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.tag)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, r.tag); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader parses a witness header written by WriteHeader. The returned
// Table resolves indices to the unmarshalers registered in reg (the
// process's own Builder); a tag present on disk but never registered by
// this process is silently noted as absent, so indices that reference it
// fail later with ErrSchema instead of failing the whole read eagerly — a
// snapshot may carry types this particular run never touches.
func ReadHeader(r io.Reader, reg *Table) (*ReadTable, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("witness: read tag count: %w", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	// Grow the table as tags are actually read rather than preallocating
	// from count, so a corrupted count fails on the first missing tag
	// instead of attempting an enormous allocation.
	rt := &ReadTable{}
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("witness: read tag %d length: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		tagBytes := make([]byte, n)
		if _, err := io.ReadFull(r, tagBytes); err != nil {
			return nil, fmt.Errorf("witness: read tag %d: %w", i, err)
		}
		tag := string(tagBytes)
		var unmar Unmarshaler
		if idx, ok := reg.tagIdx[tag]; ok {
			unmar = reg.regs[idx].unmar
		}
		rt.tags = append(rt.tags, tag)
		rt.unmar = append(rt.unmar, unmar)
	}
	return rt, nil
}

// ReadTable is the run-local index->unmarshaler mapping produced by
// ReadHeader. It is distinct from Table because the set of tags on disk
// need not equal, or be in the same order as, this process's own Builder.
type ReadTable struct {
	unmar []Unmarshaler
	tags  []string
}

// Encode writes v's witness-table index followed by its marshaled bytes.
func (t *Table) Encode(w io.Writer, tag string, v any) error {
	idx, ok := t.tagIdx[tag]
	if !ok {
		return fmt.Errorf("witness: encode: %w: %q", ErrSchema, tag)
	}
	data, err := t.regs[idx].marsh(v)
	if err != nil {
		return fmt.Errorf("witness: marshal %q: %w", tag, err)
	}
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], uint32(idx))
	if _, err := w.Write(idxBuf[:]); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// EncodeValue looks up v's tag by its runtime type and encodes it exactly
// as Encode would. It returns ErrSchema if no registration's sample type
// matches v.
func (t *Table) EncodeValue(w io.Writer, v any) error {
	typ := reflect.TypeOf(v)
	idx, ok := t.typeIdx[typ]
	if !ok {
		return fmt.Errorf("witness: encode value: %w: type %v", ErrSchema, typ)
	}
	return t.Encode(w, t.regs[idx].tag, v)
}

// Decode reads one index-prefixed record written by Encode, using rt (from
// ReadHeader) to resolve the index back to an unmarshaler.
func Decode(r io.Reader, rt *ReadTable) (any, error) {
	var idxBuf [4]byte
	if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
		return nil, err
	}
	idx := binary.BigEndian.Uint32(idxBuf[:])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("witness: read payload length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("witness: read payload: %w", err)
	}

	if int(idx) >= len(rt.unmar) || rt.unmar[idx] == nil {
		tag := "?"
		if int(idx) < len(rt.tags) {
			tag = rt.tags[idx]
		}
		return nil, fmt.Errorf("witness: decode index %d (tag %q): %w", idx, tag, ErrSchema)
	}
	v, err := rt.unmar[idx](data)
	if err != nil {
		return nil, fmt.Errorf("witness: unmarshal index %d: %w", idx, err)
	}
	return v, nil
}
