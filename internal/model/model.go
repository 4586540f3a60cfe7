// Package model defines the data shared by every layer of depdb: the
// logical clock, the per-key record, and the dependency-group shape that
// drives validation order. It has no dependency on witness, chunked, or
// journal so that all of them can depend on it without a cycle.
package model

// Key is an opaque build-target identity. A Key must be comparable (usable
// as a Go map key) and serializable through the witness table; depdb never
// inspects a Key's structure itself.
type Key = any

// Value is an opaque build result. A Value must support equality (==, or a
// concrete type for which == is defined) so Database can tell "did the
// output change" when a rebuild produces a value equal to the one already
// on record.
type Value = any

// Time is depdb's per-database monotonic logical counter. It has no
// relation to wall-clock time; it exists only to compare "was this
// dependency produced at or before the time this entry was validated".
type Time int64

// Trace is one profiling span recorded during a key's most recent
// execution.
type Trace struct {
	Label string
	Start float64
	End   float64
}

// DepGroup is one ordered list of keys demanded together during a build.
// Groups are validated in the order Info.Depends lists them; keys within a
// group may be validated in parallel.
type DepGroup []Key

// Info is the durable record kept for one key: its last-produced value,
// the logical time that value was last confirmed current, the dependency
// groups observed while producing it, and execution metadata from the most
// recent actual run.
type Info struct {
	Value     Value
	Time      Time
	Depends   []DepGroup
	RealTime  Time
	Execution float64 // wall-clock seconds of the most recent execution
	Traces    []Trace
}

// Clone returns a deep-enough copy of info: Depends and Traces are copied
// so mutating the returned Info cannot reach back into the original
// (Value itself is left aliased — depdb treats it as immutable once
// produced).
func (info Info) Clone() Info {
	out := info
	if info.Depends != nil {
		out.Depends = make([]DepGroup, len(info.Depends))
		for i, g := range info.Depends {
			out.Depends[i] = append(DepGroup(nil), g...)
		}
	}
	if info.Traces != nil {
		out.Traces = append([]Trace(nil), info.Traces...)
	}
	return out
}
