package flashfsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

// ringStart is where the default table places the ring log.
const ringStart = 4 * blockSize

func bcdEnc(b byte) byte { return (b/10)<<4 | b%10 }

// makeLogEntry builds one 16-byte slot: event, BCD timestamp, epoch, length
// and up to 7 inline payload bytes.
func makeLogEntry(event proto.LogEvent, payloadLen byte, payload []byte) []byte {
	slot := make([]byte, logEntrySize)
	slot[0] = byte(event)
	slot[1] = bcdEnc(30) // 12:45:30
	slot[2] = bcdEnc(45)
	slot[3] = bcdEnc(12)
	slot[4] = 2 // epoch
	slot[5] = bcdEnc(24)
	slot[6] = bcdEnc(6)
	slot[7] = bcdEnc(25) // 2025-06-24
	slot[8] = payloadLen
	copy(slot[9:], payload)
	return slot
}

func makeExtension(payload []byte) []byte {
	slot := make([]byte, logEntrySize)
	slot[0] = byte(proto.LogEventExtension)
	copy(slot[1:], payload)
	return slot
}

// writeLogSlot places a slot at the given entry index of the ring region.
func (s *flashSim) writeLogSlot(idx uint32, slot []byte) {
	copy(s.mem[ringStart+int(idx)*logEntrySize:], slot)
}

func TestGetLogLastFiveWithWrap(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	// cursor at absolute block 500, entry 10, log has wrapped
	const cursorPos = 496*entriesPerBlock + 10
	for i := uint32(cursorPos - 5); i < cursorPos; i++ {
		s.writeLogSlot(i, makeLogEntry(proto.LogEventPowerChanged, 1, []byte{byte(i)}))
	}

	s.fsm.StartGetLog(true, -5)
	require.True(t, s.fsm.OnLogPos(500, 10, 0xAA))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 5)
	for i, rec := range s.records {
		assert.Equal(t, uint32(cursorPos-5+i), rec.Pos, "records arrive in wall-clock order")
		assert.Equal(t, proto.LogEventPowerChanged, rec.Event())
	}
}

func TestGetLogAllUnwrapped(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	for i := uint32(0); i < 10; i++ {
		s.writeLogSlot(i, makeLogEntry(proto.LogEventHostEntry, 2, []byte{byte(i), 0x55}))
	}

	s.fsm.StartGetLog(true, 1<<30)
	require.True(t, s.fsm.OnLogPos(4, 10, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 10)
	assert.Equal(t, uint32(0), s.records[0].Pos)
	assert.Equal(t, uint32(9), s.records[9].Pos)

	ts, epoch, ok := s.records[0].Time()
	require.True(t, ok)
	assert.Equal(t, byte(2), epoch)
	assert.Equal(t, 2025, ts.Year())
	assert.Equal(t, []byte{0x00, 0x55}, s.records[0].Payload())
}

func TestGetLogFromIndex(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	for i := uint32(0); i < 100; i++ {
		s.writeLogSlot(i, makeLogEntry(proto.LogEventKeyDetected, 1, []byte{byte(i)}))
	}

	s.fsm.StartGetLog(true, 50)
	require.True(t, s.fsm.OnLogPos(4, 100, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 50, "entries before the start index are filtered")
	assert.Equal(t, uint32(50), s.records[0].Pos)
	assert.Equal(t, uint32(99), s.records[49].Pos)
}

func TestGetLogReassemblesExtensionChain(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(0xA0 + i)
	}
	s.writeLogSlot(0, makeLogEntry(proto.LogEventVoltageInfo, 20, payload[:inlinePayload]))
	s.writeLogSlot(1, makeExtension(payload[inlinePayload:]))
	s.writeLogSlot(2, makeLogEntry(proto.LogEventRTCSet, 1, []byte{0x01}))

	s.fsm.StartGetLog(true, 1<<30)
	require.True(t, s.fsm.OnLogPos(4, 3, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 2, "extension slot folds into its record")

	long := s.records[0]
	assert.Equal(t, uint32(0), long.Pos)
	assert.Equal(t, proto.LogEventVoltageInfo, long.Event())
	assert.Equal(t, payload, long.Payload())

	assert.Equal(t, proto.LogEventRTCSet, s.records[1].Event())
	assert.Equal(t, uint32(2), s.records[1].Pos)
}

func TestGetLogOrphanExtensionEmittedAsIs(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	s.writeLogSlot(0, makeExtension([]byte{0x11, 0x22}))
	s.writeLogSlot(1, makeLogEntry(proto.LogEventLogCleared, 0, nil))

	s.fsm.StartGetLog(true, 1<<30)
	require.True(t, s.fsm.OnLogPos(4, 2, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 2)
	assert.Equal(t, proto.LogEventExtension, s.records[0].Event())
	assert.Len(t, s.records[0].Data, logEntrySize)
}

func TestGetLogCrossesBlockBoundary(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	// entries straddling the block 4 / block 5 boundary
	for i := uint32(entriesPerBlock - 4); i < entriesPerBlock+4; i++ {
		s.writeLogSlot(i, makeLogEntry(proto.LogEventHDDChanged, 1, []byte{byte(i)}))
	}

	s.fsm.StartGetLog(true, -8)
	require.True(t, s.fsm.OnLogPos(5, 4, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.Len(t, s.records, 8)
	assert.Equal(t, uint32(entriesPerBlock-4), s.records[0].Pos)
	assert.Equal(t, uint32(entriesPerBlock+3), s.records[7].Pos)
}

func TestGetLogEmptyPersistentLog(t *testing.T) {
	s := newFlashSim(t)
	s.installTable(DefaultTable())

	s.fsm.StartGetLog(false, 1<<30)
	s.drain()

	s.requireClosed(true)
	assert.Empty(t, s.records)
}

func TestGetLogMissingPartitionEntry(t *testing.T) {
	s := newFlashSim(t)
	table := DefaultTable()
	table.Entries[0] = emptyEntry() // no ring log region
	s.installTable(table)

	s.fsm.StartGetLog(true, 1<<30)
	require.True(t, s.fsm.OnLogPos(4, 0, 0xFF))
	s.drain()

	s.requireClosed(true)
	require.NotEmpty(t, s.errors)
	assert.Contains(t, s.errors[len(s.errors)-1], "partition entry missing")
}

func TestLogRecordAccessors(t *testing.T) {
	rec := LogRecord{Pos: 7, Data: makeLogEntry(proto.LogEventPowerLoss, 2, []byte{0x03, 0x04})}

	assert.Equal(t, proto.LogEventPowerLoss, rec.Event())
	assert.Equal(t, []byte{0x03, 0x04}, rec.Payload())

	ts, epoch, ok := rec.Time()
	require.True(t, ok)
	assert.Equal(t, byte(2), epoch)
	assert.Equal(t, "2025-06-24 12:45:30", ts.Format("2006-01-02 15:04:05"))

	ext := LogRecord{Data: makeExtension([]byte{1})}
	_, _, ok = ext.Time()
	assert.False(t, ok)
	assert.Nil(t, ext.Payload())
}
