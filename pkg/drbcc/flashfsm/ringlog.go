package flashfsm

import (
	"time"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

const (
	logEntrySize    = 16
	entriesPerBlock = blockSize / logEntrySize

	// wrapNone is the device's "log has not wrapped yet" cursor flag.
	wrapNone = 0xFF

	// inlinePayload is how many payload bytes fit into a single 16-byte
	// slot; longer payloads spill into extension slots of 15 bytes each.
	inlinePayload = 7
)

// LogRecord is one reassembled log record: Pos is its entry index within
// the log region, Data its raw bytes (16 for single-slot records, more when
// extension slots were folded in).
type LogRecord struct {
	Pos  uint32
	Data []byte
}

// Event returns the record's event code (byte 0).
func (r LogRecord) Event() proto.LogEvent {
	if len(r.Data) == 0 {
		return proto.LogEventEmpty
	}
	return proto.LogEvent(r.Data[0])
}

// Time decodes the record's DS3231-style timestamp: BCD sec/min/hour at
// bytes 1..3, the binary epoch counter at byte 4, BCD day/month/year at
// bytes 5..7. Extension and empty records carry no timestamp (ok=false).
func (r LogRecord) Time() (t time.Time, epoch byte, ok bool) {
	if len(r.Data) < 8 || r.Event() == proto.LogEventExtension || r.Event() == proto.LogEventEmpty {
		return time.Time{}, 0, false
	}
	d := r.Data
	t = time.Date(
		2000+int(bcdByte(d[7])),
		time.Month(bcdByte(d[6])),
		int(bcdByte(d[5])),
		int(bcdByte(d[3])), int(bcdByte(d[2])), int(bcdByte(d[1])),
		0, time.UTC,
	)
	return t, d[4], true
}

// Payload returns the record's payload bytes (after the length byte at
// offset 8), empty for extension/empty records.
func (r LogRecord) Payload() []byte {
	if len(r.Data) < 10 || r.Event() == proto.LogEventExtension || r.Event() == proto.LogEventEmpty {
		return nil
	}
	n := int(r.Data[8])
	if 9+n > len(r.Data) {
		n = len(r.Data) - 9
	}
	return r.Data[9 : 9+n]
}

func bcdByte(b byte) byte {
	return (b>>4)*10 + (b & 0x0F)
}

// logTraversal is the GetLog working set: the device cursor, the caller's
// window, and the multi-slot reassembly buffer.
type logTraversal struct {
	ring    bool
	entries int // signed: <0 last N, >=0 from N, |n|>=ring size all

	cursorBlock uint16 // absolute flash block from RINGLOG_POS
	cursorEntry byte
	wrap        byte

	cursorRel  int    // cursor block relative to the log region start
	start      uint32 // first entry index the caller wants emitted
	currLogPos uint32 // cursor as an entry index

	// reassembly of records whose payload spills into extension slots
	data  []byte
	index int
	rest  int
	pos   uint32
}

// getLogRead drives the GetLog operation: the addr==0 read is the partition
// table (locate the log region and compute the starting window), every later
// read is 128 bytes of log slots.
func (f *FSM) getLogRead(addr uint32, data []byte) {
	if addr != primaryAddr {
		f.scanLogChunk(addr, data)
		return
	}

	if !hasMagic(data) {
		f.sink.ReportError("No magic in flash partition table")
		f.closeSession(true)
		return
	}
	table, _, crcOK, err := ParseTable(data)
	if err != nil {
		f.sink.ReportError(err.Error())
		f.closeSession(true)
		return
	}
	if !crcOK {
		f.sink.ReportError("CRC error in flash partition table")
	}

	kind := KindPersLog
	if f.log.ring {
		kind = KindRingLog
	}
	var e PartitionEntry
	ok := false
	for _, cand := range table.Entries {
		if !cand.Empty() && cand.BlockSized && cand.Kind == kind {
			e = cand
			ok = true
			break
		}
	}
	if !ok {
		f.sink.ReportError("Get log failed, partition entry missing")
		f.closeSession(true)
		return
	}

	f.curFileStart = uint32(e.StartBlock) * blockSize
	f.maxFileLen = int(e.Length) * blockSize
	if !f.log.ring {
		// The persistent log has no device cursor; it is scanned from the
		// region start and terminates at the first never-written slot.
		f.log.cursorBlock = e.StartBlock
		f.log.cursorEntry = 0
		f.log.wrap = wrapNone
	}
	f.log.cursorRel = int(f.log.cursorBlock) - int(e.StartBlock)
	f.log.currLogPos = uint32(f.log.cursorRel*entriesPerBlock) + uint32(f.log.cursorEntry)

	startAddr := f.logStartAddr()
	f.sink.Enqueue(flashReadMsg(f.curFileStart+startAddr, chunkSize))
}

// logStartAddr converts the caller's signed entries parameter and the
// device cursor into the byte offset of the first 128-byte read, aligning
// down to the chunk boundary and accounting for ring wrap.
func (f *FSM) logStartAddr() uint32 {
	t := &f.log
	entries := t.entries
	absEntries := entries
	if absEntries < 0 {
		absEntries = -absEntries
	}
	ringSize := f.maxFileLen / logEntrySize

	if t.wrap == wrapNone {
		// Log has not wrapped: it occupies entry 0 up to the cursor.
		switch {
		case absEntries >= ringSize: // all
			t.start = 0
			return 0
		case entries < 0: // last N
			lastN := uint32(-entries)
			if lastN >= t.currLogPos {
				t.start = 0
				return 0
			}
			t.start = t.currLogPos - lastN
			return (t.start * logEntrySize) &^ (chunkSize - 1)
		default: // from entry N
			fromN := uint32(entries)
			if fromN >= t.currLogPos {
				t.start = 0
				return 0
			}
			t.start = fromN
			return (t.start * logEntrySize) &^ (chunkSize - 1)
		}
	}

	// Wrapped: the oldest entry lives just after the cursor block.
	if absEntries >= ringSize { // all
		startAddr := uint32((t.cursorRel+1)%(f.maxFileLen/blockSize)) * blockSize
		t.start = startAddr / logEntrySize
		return startAddr
	}
	if entries < 0 { // last N
		lastN := uint32(-entries)
		if lastN > t.currLogPos {
			rest := lastN - t.currLogPos
			fromN := uint32(ringSize) - 1 - rest
			return f.wrapStartAddr(fromN)
		}
		return f.wrapStartAddr(t.currLogPos - lastN)
	}
	return f.wrapStartAddr(uint32(entries)) // from entry N
}

// wrapStartAddr resolves a requested starting entry index against a wrapped
// ring: an index at or past the cursor belongs to the previous lap. One
// that lies before the block after the cursor's block (already overwritten)
// moves to that block's first entry, the oldest surviving one; one at or
// beyond it is used as is. When the cursor is in the last block the ring
// starts at offset 0.
func (f *FSM) wrapStartAddr(fromN uint32) uint32 {
	t := &f.log
	if fromN >= t.currLogPos {
		nextEntry := uint32((t.cursorRel+1)%(f.maxFileLen/blockSize)) * entriesPerBlock
		switch {
		case nextEntry == 0:
			// cursor sat in the last block, the ring restarts at offset 0
			t.start = 0
			return 0
		case nextEntry < fromN:
			// requested entry is in the upper (old) part of the ring
			t.start = fromN
			return (t.start * logEntrySize) &^ (chunkSize - 1)
		default:
			// requested entry was overwritten, start at the oldest one
			t.start = nextEntry
			return t.start * logEntrySize
		}
	}
	t.start = fromN
	return (t.start * logEntrySize) &^ (chunkSize - 1)
}

// cursorAddr is the absolute flash address of the device's write cursor,
// where traversal must stop.
func (f *FSM) cursorAddr() uint32 {
	return f.curFileStart + uint32(f.log.cursorRel)*blockSize + uint32(f.log.cursorEntry)*logEntrySize
}

// scanLogChunk interprets one 128-byte window of 16-byte log slots,
// reassembling extension chains and emitting complete records, then
// requests the next window (wrapping at the region end) until the cursor is
// reached.
func (f *FSM) scanLogChunk(addr uint32, data []byte) {
	t := &f.log
	basePos := (addr - f.curFileStart) / logEntrySize

	for i := 0; i+logEntrySize <= len(data); i += logEntrySize {
		slot := data[i : i+logEntrySize]
		pos := basePos + uint32(i/logEntrySize)

		if slot[0] == byte(proto.LogEventEmpty) {
			// A never-written slot at the cursor means the backlog is
			// drained; for the cursor-less persistent log any empty slot
			// is the end.
			if addr+uint32(i) == f.cursorAddr() || !t.ring {
				f.closeSession(true)
				return
			}
			continue
		}

		if slot[0] == byte(proto.LogEventExtension) {
			switch {
			case t.data == nil:
				// extension without an open record, emit as-is
				f.emitLogRecord(pos, slot, logEntrySize)
			case t.rest > 15:
				copy(t.data[t.index:], slot[1:logEntrySize])
				t.index += 15
				t.rest -= 15
			default:
				copy(t.data[t.index:], slot[1:1+t.rest])
				f.emitLogRecord(t.pos, t.data, int(t.data[8])+9)
				t.data = nil
			}
			continue
		}

		// slot[1]==0xFF marks a half-written entry left by the programmer
		if slot[1] != 0xFF && int(slot[8]) > inlinePayload {
			t.data = make([]byte, int(slot[8])*3)
			copy(t.data, slot)
			t.rest = int(slot[8]) - inlinePayload
			t.index = logEntrySize
			t.pos = pos
		} else {
			f.emitLogRecord(pos, slot, int(slot[8])+9)
		}
	}

	if addr+chunkSize == f.cursorAddr() {
		f.closeSession(true)
		return
	}
	if addr+chunkSize == f.curFileStart+uint32(f.maxFileLen) {
		// end of the ring, continue from its start
		f.sink.Enqueue(flashReadMsg(f.curFileStart, chunkSize))
		return
	}
	f.sink.Enqueue(flashReadMsg(addr+chunkSize, chunkSize))
}

// emitLogRecord applies the wrap-aware window filter and hands the record
// to the sink. Entries older than the caller's start index are suppressed.
func (f *FSM) emitLogRecord(pos uint32, buf []byte, length int) {
	t := &f.log
	if t.wrap == wrapNone {
		if pos < t.start {
			return
		}
	} else if t.currLogPos > t.start {
		if pos < t.start {
			return
		}
	} else if t.currLogPos < pos && pos < t.start {
		return
	}

	if length > len(buf) {
		length = len(buf)
	}
	rec := LogRecord{Pos: pos, Data: make([]byte, length)}
	copy(rec.Data, buf[:length])
	f.sink.LogRecord(rec)
}
