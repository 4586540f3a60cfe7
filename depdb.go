// Package depdb provides a minimal public API for embedding the
// dependency database in a host program instead of driving it through the
// depdb CLI.
//
// Most embedders should use internal/database directly if they vendor this
// module; this package exports only the handful of types and functions a
// Go program needs to open a database, request keys, and record finished
// builds without reaching into internal packages.
package depdb

import (
	"github.com/steveyegge/depdb/internal/database"
	"github.com/steveyegge/depdb/internal/model"
	"github.com/steveyegge/depdb/internal/witness"
)

// Core types for working with the dependency database.
type (
	Key         = model.Key
	Value       = model.Value
	Time        = model.Time
	Info        = model.Info
	Trace       = model.Trace
	DepGroup    = model.DepGroup
	Table       = witness.Table
	Database    = database.Database
	Response    = database.Response
	ValidStored = database.ValidStored
)

// Response kind constants.
const (
	Execute = database.Execute
	Block   = database.Block
	Ready   = database.Ready
)

// Sentinel errors surfaced by the database.
var ErrProtocol = database.ErrProtocol

// NewWitnessTable returns an empty witness.Builder for registering the
// concrete key/value types a host program's keys and values use.
func NewWitnessTable() *witness.Builder {
	return witness.NewBuilder()
}

// Open opens (or creates) a dependency database at path, using table to
// serialize whatever concrete key/value types the host program registered
// on it. userVersion must change whenever table's registered shapes change,
// so a database written under an old schema is never misread as the new
// one.
func Open(path string, userVersion int, table *Table) (*Database, error) {
	return database.Open(path, userVersion, table)
}
