package driver

import (
	"encoding/binary"
	"fmt"

	"github.com/steveyegge/depdb/internal/witness"
)

// NewTable registers the concrete key/value types the driver uses: target
// names and "file:<path>" source keys are strings; a source's recorded
// value is the file's modification time (int64 unix nanoseconds); a
// recipe's recorded value is the digest of its output (string).
func NewTable() *witness.Table {
	b := witness.NewBuilder()
	b.Register("string", "",
		func(v any) ([]byte, error) { return []byte(v.(string)), nil },
		func(data []byte) (any, error) { return string(data), nil },
	)
	b.Register("int64", int64(0),
		func(v any) ([]byte, error) {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(v.(int64)))
			return buf, nil
		},
		func(data []byte) (any, error) {
			if len(data) != 8 {
				return nil, fmt.Errorf("driver: malformed int64 value (%d bytes)", len(data))
			}
			return int64(binary.BigEndian.Uint64(data)), nil
		},
	)
	return b.Freeze()
}
