// Package codec serializes model.Info and (key, info) entries against a
// witness.Table. It is the one place that knows how Info's plain fields
// (times, execution seconds, traces) interleave with the witness-typed
// Key and Value fields, so journal and the snapshot format can share it
// instead of duplicating the layout.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

// EncodeEntry writes one (key, info) record: the key, then info.
func EncodeEntry(w io.Writer, table *witness.Table, key model.Key, info model.Info) error {
	if err := table.EncodeValue(w, key); err != nil {
		return fmt.Errorf("codec: encode key: %w", err)
	}
	return EncodeInfo(w, table, info)
}

// DecodeEntry reads one (key, info) record written by EncodeEntry.
func DecodeEntry(r io.Reader, rt *witness.ReadTable) (model.Key, model.Info, error) {
	key, err := witness.Decode(r, rt)
	if err != nil {
		return nil, model.Info{}, fmt.Errorf("codec: decode key: %w", err)
	}
	info, err := DecodeInfo(r, rt)
	if err != nil {
		return nil, model.Info{}, fmt.Errorf("codec: decode info for key %v: %w", key, err)
	}
	return key, info, nil
}

// EncodeInfo writes an Info: its witness-typed Value, then Time/RealTime/
// Execution as fixed-width fields, then Depends (each key witness-typed),
// then Traces.
func EncodeInfo(w io.Writer, table *witness.Table, info model.Info) error {
	if err := table.EncodeValue(w, info.Value); err != nil {
		return fmt.Errorf("codec: encode value: %w", err)
	}
	if err := writeInt64(w, int64(info.Time)); err != nil {
		return err
	}
	if err := writeInt64(w, int64(info.RealTime)); err != nil {
		return err
	}
	if err := writeFloat64(w, info.Execution); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(info.Depends))); err != nil {
		return err
	}
	for _, group := range info.Depends {
		if err := writeUint32(w, uint32(len(group))); err != nil {
			return err
		}
		for _, k := range group {
			if err := table.EncodeValue(w, k); err != nil {
				return fmt.Errorf("codec: encode dependency key: %w", err)
			}
		}
	}

	if err := writeUint32(w, uint32(len(info.Traces))); err != nil {
		return err
	}
	for _, tr := range info.Traces {
		if err := writeString(w, tr.Label); err != nil {
			return err
		}
		if err := writeFloat64(w, tr.Start); err != nil {
			return err
		}
		if err := writeFloat64(w, tr.End); err != nil {
			return err
		}
	}
	return nil
}

// DecodeInfo reads an Info written by EncodeInfo.
func DecodeInfo(r io.Reader, rt *witness.ReadTable) (model.Info, error) {
	var info model.Info

	v, err := witness.Decode(r, rt)
	if err != nil {
		return info, fmt.Errorf("codec: decode value: %w", err)
	}
	info.Value = v

	t, err := readInt64(r)
	if err != nil {
		return info, err
	}
	info.Time = model.Time(t)

	rt64, err := readInt64(r)
	if err != nil {
		return info, err
	}
	info.RealTime = model.Time(rt64)

	info.Execution, err = readFloat64(r)
	if err != nil {
		return info, err
	}

	groupCount, err := readUint32(r)
	if err != nil {
		return info, err
	}
	if groupCount > 0 {
		info.Depends = make([]model.DepGroup, groupCount)
	}
	for i := uint32(0); i < groupCount; i++ {
		keyCount, err := readUint32(r)
		if err != nil {
			return info, err
		}
		group := make(model.DepGroup, keyCount)
		for j := uint32(0); j < keyCount; j++ {
			k, err := witness.Decode(r, rt)
			if err != nil {
				return info, fmt.Errorf("codec: decode dependency key: %w", err)
			}
			group[j] = k
		}
		info.Depends[i] = group
	}

	traceCount, err := readUint32(r)
	if err != nil {
		return info, err
	}
	if traceCount > 0 {
		info.Traces = make([]model.Trace, traceCount)
	}
	for i := uint32(0); i < traceCount; i++ {
		label, err := readString(r)
		if err != nil {
			return info, err
		}
		start, err := readFloat64(r)
		if err != nil {
			return info, err
		}
		end, err := readFloat64(r)
		if err != nil {
			return info, err
		}
		info.Traces[i] = model.Trace{Label: label, Start: start, End: end}
	}

	return info, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func writeFloat64(w io.Writer, v float64) error {
	return writeInt64(w, int64(math.Float64bits(v)))
}

func readFloat64(r io.Reader) (float64, error) {
	bits, err := readInt64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
