package flashfsm

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestSmallestFreeRunSelection(t *testing.T) {
	blocks := make([]bool, totalBlocks)
	for i := 0; i < reservedBlocks; i++ {
		blocks[i] = true
	}
	// used: 10..19 and 28..1023, leaving free runs 4..9 (6 blocks) and
	// 20..27 (8 blocks)
	for i := 10; i < 20; i++ {
		blocks[i] = true
	}
	for i := 28; i < totalBlocks; i++ {
		blocks[i] = true
	}

	run, ok := smallestFreeRun(blocks, 5)
	require.True(t, ok)
	assert.Equal(t, 4, run.start, "smallest fitting run wins")

	run, ok = smallestFreeRun(blocks, 7)
	require.True(t, ok)
	assert.Equal(t, 20, run.start)

	_, ok = smallestFreeRun(blocks, 9)
	assert.False(t, ok)
}

func TestFirstFitAmongEqualRuns(t *testing.T) {
	blocks := make([]bool, totalBlocks)
	for i := 0; i < reservedBlocks; i++ {
		blocks[i] = true
	}
	// two equal 4-block runs at 4..7 and 12..15
	for i := 8; i < 12; i++ {
		blocks[i] = true
	}
	for i := 16; i < totalBlocks; i++ {
		blocks[i] = true
	}

	run, ok := smallestFreeRun(blocks, 4)
	require.True(t, ok)
	assert.Equal(t, 4, run.start)
}

func TestPutFileUpload(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	content := patternBytes(32 * 1024)
	path := writeTempFile(t, content)

	s.fsm.StartPutFile(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0}, path, len(content))
	s.drain()

	s.requireClosed(true)

	// the image went to the first free run after the log regions
	parsed, _, crcOK, err := ParseTable(s.mem[0:tableBytes])
	require.NoError(t, err)
	assert.True(t, crcOK)

	var entry PartitionEntry
	found := false
	for _, e := range parsed.Entries {
		if !e.Empty() && e.Kind == KindFirmwareUpdate && !e.BlockSized {
			entry = e
			found = true
			break
		}
	}
	require.True(t, found, "partition table gained the firmware entry")
	assert.Equal(t, uint32(len(content)), entry.Length)
	assert.Equal(t, uint16(576), entry.StartBlock, "first free block after ring and persistent log")

	start := int(entry.StartBlock) * blockSize
	assert.Equal(t, content, s.mem[start:start+len(content)])

	// both table copies identical after the commit
	assert.Equal(t, s.mem[0:tableBytes], s.mem[backupAddr:backupAddr+tableBytes])

	// erase precedes the writes of every touched block: 8 erases for 32 KiB
	// plus 2 for the table copies
	erases := 0
	for _, m := range s.sent {
		if m.Cmd == proto.CmdReqFlashErase {
			erases++
		}
	}
	assert.Equal(t, 8+2, erases)

	// progress advances chunk by chunk up to the full size
	require.NotEmpty(t, s.progress)
	last := s.progress[len(s.progress)-1]
	assert.Equal(t, [2]int{len(content), len(content)}, last)
	for _, p := range s.progress {
		assert.Equal(t, len(content), p[1])
	}
}

func TestPutFileThenGetFileRoundTrip(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	content := patternBytes(5000) // not chunk aligned
	src := writeTempFile(t, content)

	s.fsm.StartPutFile(FileRef{Kind: KindUBootEnv, SubIndex: 2}, src, len(content))
	s.drain()
	s.requireClosed(true)

	dst := filepath.Join(t.TempDir(), "readback.bin")
	s.fsm.StartGetFile(FileRef{Kind: KindUBootEnv, SubIndex: 2}, dst)
	s.drain()
	s.requireClosed(true)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "round-tripped file differs")
}

func TestPutFileReusesEntryOfSameType(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	first := writeTempFile(t, patternBytes(4096))
	s.fsm.StartPutFile(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0}, first, 4096)
	s.drain()
	s.requireClosed(true)

	second := writeTempFile(t, patternBytes(8192))
	s.fsm.StartPutFile(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0}, second, 8192)
	s.drain()
	s.requireClosed(true)

	parsed, _, _, err := ParseTable(s.mem[0:tableBytes])
	require.NoError(t, err)
	count := 0
	for _, e := range parsed.Entries {
		if !e.Empty() && e.Kind == KindFirmwareUpdate && !e.BlockSized {
			count++
			assert.Equal(t, uint32(8192), e.Length)
		}
	}
	assert.Equal(t, 1, count, "same-type upload reuses the entry instead of adding one")
}

func TestPutFileTableFull(t *testing.T) {
	s := newFlashSim(t)
	table := DefaultTable()
	for i := 2; i < numEntries; i++ {
		table.Entries[i] = PartitionEntry{
			Kind:       KindUBootImage,
			SubIndex:   byte(i),
			StartBlock: uint16(576 + i),
			Length:     1,
		}
	}
	s.installTable(table)

	path := writeTempFile(t, patternBytes(128))
	s.fsm.StartPutFile(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0}, path, 128)
	s.drain()

	s.requireClosed(true)
	require.NotEmpty(t, s.errors)
	assert.Contains(t, s.errors[len(s.errors)-1], "partition table full")
}

func TestPutFileNoSpaceLeft(t *testing.T) {
	s := newFlashSim(t)
	table := DefaultTable()
	// one entry claims every remaining block
	table.Entries[2] = PartitionEntry{
		BlockSized: true,
		Kind:       KindFree,
		SubIndex:   1,
		StartBlock: 576,
		Length:     uint32(totalBlocks - 576),
	}
	s.installTable(table)

	path := writeTempFile(t, patternBytes(4096))
	s.fsm.StartPutFile(FileRef{Kind: KindFirmwareUpdate, SubIndex: 0}, path, 4096)
	s.drain()

	s.requireClosed(true)
	require.NotEmpty(t, s.errors)
	assert.Contains(t, s.errors[len(s.errors)-1], "no space left")
}
