package flashfsm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

func TestDefaultTableLayout(t *testing.T) {
	table := DefaultTable()

	e0 := table.Entries[0]
	assert.True(t, e0.BlockSized)
	assert.Equal(t, KindRingLog, e0.Kind)
	assert.Equal(t, uint16(4), e0.StartBlock)
	assert.Equal(t, uint32(508), e0.Length)

	e1 := table.Entries[1]
	assert.True(t, e1.BlockSized)
	assert.Equal(t, KindPersLog, e1.Kind)
	assert.Equal(t, uint16(512), e1.StartBlock)
	assert.Equal(t, uint32(64), e1.Length)

	for i := 2; i < numEntries; i++ {
		assert.True(t, table.Entries[i].Empty(), "entry %d should be empty", i)
	}
}

func TestTableSerializeParseRoundTrip(t *testing.T) {
	table := DefaultTable()
	table.Entries[2] = PartitionEntry{
		Kind:       KindFirmwareUpdate,
		SubIndex:   3,
		StartBlock: 600,
		Length:     0x012345,
	}

	data := table.Bytes()
	require.Len(t, data, tableBytes)
	assert.Equal(t, byte(0xAF), data[0])
	assert.Equal(t, byte(0xFE), data[1])

	parsed, magicOK, crcOK, err := ParseTable(data)
	require.NoError(t, err)
	assert.True(t, magicOK)
	assert.True(t, crcOK)
	assert.Equal(t, table.Entries, parsed.Entries)
}

func TestParseTableToleratesBadCRC(t *testing.T) {
	data := DefaultTable().Bytes()
	data[4] ^= 0xFF

	parsed, magicOK, crcOK, err := ParseTable(data)
	require.NoError(t, err)
	assert.True(t, magicOK)
	assert.False(t, crcOK)
	// salvage-over-halt: entries still parse
	assert.Equal(t, uint16(4), parsed.Entries[0].StartBlock)
}

func TestEmptyEntrySerializesAllOnes(t *testing.T) {
	table := DefaultTable()
	data := table.Bytes()
	// entry 2 is empty: all six bytes 0xFF
	off := 6 + 2*entrySize
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, entrySize), data[off:off+entrySize])
}

func TestPartitionReadReportsTable(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	s.fsm.StartPartitionRead()
	s.drain()

	require.Len(t, s.tables, 1)
	assert.Equal(t, DefaultTable().Entries, s.tables[0].Entries)
	s.requireClosed(true)
	assert.False(t, s.fsm.Active())
}

func TestPartitionCreateOnBlankFlash(t *testing.T) {
	s := newFlashSim(t)

	s.fsm.StartPartitionRead()
	s.drain()

	// expected emissions in order: read(0), erase(1), write(4096),
	// erase(0), write(0), read(0)
	var got []string
	for _, m := range s.sent {
		switch m.Cmd {
		case proto.CmdReqFlashRead:
			got = append(got, "read")
		case proto.CmdReqFlashErase:
			got = append(got, "erase")
		case proto.CmdReqFlashWrite:
			got = append(got, "write")
		}
	}
	assert.Equal(t, []string{"read", "erase", "write", "erase", "write", "read"}, got)

	assert.Equal(t, uint16(1), uint16(s.sent[1].Payload[0])<<8|uint16(s.sent[1].Payload[1]))
	assert.Equal(t, byte(0x10), s.sent[2].Payload[1], "backup write lands at 0x1000")
	assert.Equal(t, uint16(0), uint16(s.sent[3].Payload[0])<<8|uint16(s.sent[3].Payload[1]))

	require.Len(t, s.tables, 1)
	assert.Equal(t, DefaultTable().Entries, s.tables[0].Entries)
	s.requireClosed(true)

	// both flash copies are byte-identical
	assert.Equal(t, s.mem[0:tableBytes], s.mem[backupAddr:backupAddr+tableBytes])
}

func TestPartitionRepairFromBackup(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())
	// corrupt the primary magic (not blank, so the backup probe engages)
	s.mem[0] = 0x00
	s.mem[1] = 0x00

	s.fsm.StartPartitionRead()
	s.drain()

	require.Len(t, s.tables, 1)
	assert.Equal(t, DefaultTable().Entries, s.tables[0].Entries)
	s.requireClosed(true)
	assert.Equal(t, s.mem[0:tableBytes], s.mem[backupAddr:backupAddr+tableBytes])
}

func TestDeleteFileRewritesBothCopies(t *testing.T) {
	s := newFlashSim(t)
	table := DefaultTable()
	table.Entries[2] = PartitionEntry{
		Kind:       KindFirmwareUpdate,
		SubIndex:   0,
		StartBlock: 600,
		Length:     1000,
	}
	s.installTable(table)

	s.fsm.StartDelete(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0})
	s.drain()

	s.requireClosed(true)
	parsed, _, crcOK, err := ParseTable(s.mem[0:tableBytes])
	require.NoError(t, err)
	assert.True(t, crcOK)
	assert.True(t, parsed.Entries[2].Empty())
	assert.Equal(t, s.mem[0:tableBytes], s.mem[backupAddr:backupAddr+tableBytes])
}

func TestDeleteByIndex(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	s.fsm.StartDelete(FileRef{ByIndex: true, Index: 1})
	s.drain()

	s.requireClosed(true)
	parsed, _, _, err := ParseTable(s.mem[0:tableBytes])
	require.NoError(t, err)
	assert.True(t, parsed.Entries[1].Empty())
	assert.False(t, parsed.Entries[0].Empty(), "ring log entry untouched")
}
