package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")

	table := flashfsm.DefaultTable()
	in := Snapshot{
		Partition: &table,
		LogBlock:  500,
		LogEntry:  10,
		LogWrap:   0xAA,
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in.LogBlock, out.LogBlock)
	assert.Equal(t, in.LogEntry, out.LogEntry)
	assert.Equal(t, in.LogWrap, out.LogWrap)
	require.NotNil(t, out.Partition)
	assert.Equal(t, table.Entries, out.Partition.Entries)
}

func TestLoadMissingFileIsZero(t *testing.T) {
	out, err := Load(filepath.Join(t.TempDir(), "absent.cbor"))
	require.NoError(t, err)
	assert.Nil(t, out.Partition)
	assert.Zero(t, out.LogBlock)
}
