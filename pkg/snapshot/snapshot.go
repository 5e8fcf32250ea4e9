// Package snapshot persists the last observed device state (partition
// table, ring-log cursor) to disk as CBOR; Load reads it back. The
// cmd/drbccctl driver only writes the snapshot and does not load it.
package snapshot

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
)

// Snapshot is the persisted device-state record.
type Snapshot struct {
	Partition *flashfsm.PartitionTable `cbor:"partition,omitempty"`
	LogBlock  uint16                   `cbor:"log_block"`
	LogEntry  byte                     `cbor:"log_entry"`
	LogWrap   byte                     `cbor:"log_wrap"`
}

// Save writes the snapshot to path, replacing any previous one atomically.
func Save(path string, s Snapshot) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot back; a missing file is not an error and yields the
// zero snapshot.
func Load(path string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := cbor.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal snapshot: %v", err)
	}
	return s, nil
}
