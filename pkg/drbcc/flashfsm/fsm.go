package flashfsm

import (
	"github.com/dresearch/go-drbcc/pkg/link"
)

// State identifies which multi-step flash operation currently owns the
// inbound flash indications. StateUser means none does: read/write results
// belong to the caller's raw callbacks.
type State int

const (
	StateUser State = iota
	StatePartitionReq
	StateDeleteFile
	StateGetFile
	StatePutFile
	StateGetLog
)

// Sink is everything the FSM needs from its owner: a way to enqueue bulk
// frames, and the user-facing callbacks it drives. pkg/drbcc's Handle
// implements it; tests implement it with capture buffers.
type Sink interface {
	// Enqueue places a chunk-level frame on the secondary (bulk) FIFO.
	Enqueue(msg link.Message)

	ReportError(message string)
	CloseSession(success bool)
	Progress(current, total int)
	PartitionTable(table PartitionTable)
	LogRecord(rec LogRecord)
}

// FileRef selects a partition-table entry, either by slot index (0..19) or
// by its (kind, block-sizing, sub-index) triple.
type FileRef struct {
	ByIndex    bool
	Index      int
	BlockSized bool
	Kind       EntryKind
	SubIndex   byte
}

func (r FileRef) matches(e PartitionEntry) bool {
	return e.Kind == r.Kind && e.BlockSized == r.BlockSized && e.SubIndex == r.SubIndex
}

// FSM is the host-side flash orchestration state machine. One
// instance per handle; an operation claims it by moving state away from
// StateUser and releases it on the terminal event.
type FSM struct {
	sink  Sink
	state State

	ref     FileRef
	curName string

	curFileLen   int
	maxFileLen   int
	curFileStart uint32

	// read continuation for chunked file reads
	flashAddr uint32
	flashLen  int

	triedBackup bool

	log logTraversal
}

func New(sink Sink) *FSM {
	return &FSM{sink: sink}
}

// State returns the FSM's current owner state.
func (f *FSM) State() State { return f.state }

// Active reports whether a multi-step flash operation is in progress.
func (f *FSM) Active() bool { return f.state != StateUser }

// Abort force-releases the FSM, used when the link kills the session
// (retransmit exhaustion, toggle error).
func (f *FSM) Abort() {
	f.state = StateUser
	f.log = logTraversal{}
	f.flashLen = 0
}

// StartPartitionRead begins the get-partitiontable operation: read the
// primary table copy and report it via the partition callback.
func (f *FSM) StartPartitionRead() {
	f.state = StatePartitionReq
	f.requestPartition()
}

// StartGetFile begins reading the flash region selected by ref into the
// local file at path.
func (f *FSM) StartGetFile(ref FileRef, path string) {
	f.state = StateGetFile
	f.ref = ref
	f.curName = path
	f.curFileLen = 0
	f.requestPartition()
}

// StartPutFile begins writing the local file at path (size bytes long) into
// a free flash region, registered under ref's kind and sub-index.
func (f *FSM) StartPutFile(ref FileRef, path string, size int) {
	f.state = StatePutFile
	f.ref = ref
	f.curName = path
	f.curFileLen = 0
	f.maxFileLen = size
	f.requestPartition()
}

// StartDelete begins clearing the partition-table entry selected by ref.
func (f *FSM) StartDelete(ref FileRef) {
	f.state = StateDeleteFile
	f.ref = ref
	f.requestPartition()
}

// StartGetLog begins a log traversal. For the ring log the caller must also
// request the device's current write cursor (REQ_RINGLOG_POS); traversal
// proceeds once OnLogPos delivers it. The persistent log has no device-side
// cursor: it is read from its start and ends at the first never-written slot.
func (f *FSM) StartGetLog(ring bool, entries int) {
	f.state = StateGetLog
	f.log = logTraversal{ring: ring, entries: entries, wrap: wrapNone}
	if !ring {
		f.requestPartition()
	}
}

// OnLogPos feeds a ring-log cursor into the FSM. It reports whether the FSM
// consumed the cursor (a GetLog traversal was waiting on it); otherwise the
// caller delivers it to the get-pos callback.
func (f *FSM) OnLogPos(block uint16, entry byte, wrap byte) bool {
	if f.state != StateGetLog {
		return false
	}
	f.log.cursorBlock = block
	f.log.cursorEntry = entry
	f.log.wrap = wrap
	f.requestPartition()
	return true
}

// OnFlashRead feeds a flash-read indication into the FSM. The partition
// table repair preamble runs first: a primary copy with a
// corrupted magic is replaced from the backup at 0x1000 when possible. A
// blank magic (erased flash) skips the probe; the per-state handlers treat
// it as "no table yet".
func (f *FSM) OnFlashRead(addr uint32, data []byte) {
	if !f.triedBackup && addr == primaryAddr && !hasMagic(data) && !blankMagic(data) {
		f.triedBackup = true
		f.sink.ReportError("No magic in flash partition table, try other one")
		f.sink.Enqueue(flashReadMsg(backupAddr, tableBytes))
		return
	}
	if addr == backupAddr {
		if !hasMagic(data) {
			f.sink.ReportError("No magic in 2nd flash partition table, try without")
			addr = primaryAddr
		} else {
			f.sink.Enqueue(flashEraseMsg(primaryBlk))
			f.sink.Enqueue(flashWriteMsg(primaryAddr, data[:tableBytes]))
			f.sink.Enqueue(flashReadMsg(primaryAddr, tableBytes))
			return
		}
	}
	f.triedBackup = false

	switch f.state {
	case StatePartitionReq:
		f.gotPartition(addr, data)
	case StateDeleteFile:
		f.deleteRead(addr, data)
	case StateGetFile:
		f.getFileRead(addr, data)
	case StatePutFile:
		f.putFileRead(addr, data)
	case StateGetLog:
		f.getLogRead(addr, data)
	default:
		f.sink.ReportError("No handler for read flash callback")
		f.closeSession(true)
	}
}

// OnFlashWrite feeds a flash-write result into the FSM. A zero result byte
// is a device-side failure.
func (f *FSM) OnFlashWrite(addr uint32, length int, result byte) {
	switch f.state {
	case StatePartitionReq:
		// new partition table created, nothing to do
	case StateDeleteFile:
		f.deleteWriteResult(addr, result)
	case StatePutFile:
		f.putFileWriteResult(addr, length, result)
	default:
		f.sink.ReportError("No handler for write flash callback")
		f.closeSession(true)
	}
}

func (f *FSM) requestPartition() {
	f.sink.Enqueue(flashReadMsg(primaryAddr, tableBytes))
}

// startRead enqueues the first chunk of a byte range and records the rest
// for continuation from the next read indication.
func (f *FSM) startRead(addr uint32, length int) {
	size := chunkSize
	if length < chunkSize {
		size = length
	}
	f.sink.Enqueue(flashReadMsg(addr, byte(size)))
	f.flashAddr = addr + uint32(size)
	f.flashLen = length - size
}

func (f *FSM) continueRead() {
	f.startRead(f.flashAddr, f.flashLen)
}

// closeSession releases the FSM and closes the active session.
func (f *FSM) closeSession(success bool) {
	f.state = StateUser
	f.log = logTraversal{}
	f.sink.CloseSession(success)
}

func hasMagic(data []byte) bool {
	return len(data) >= 2 && data[0] == partMagic1 && data[1] == partMagic2
}

func blankMagic(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFF
}

// gotPartition completes the get-partitiontable operation: validate, parse,
// report. A missing magic means blank flash: write a fresh default table to
// both copies and re-read.
func (f *FSM) gotPartition(addr uint32, data []byte) {
	if addr != primaryAddr {
		f.sink.ReportError("Wrong flash space used for partition table!")
		f.closeSession(true)
		return
	}
	if len(data) < 126 {
		f.sink.ReportError("Partition table is too short!")
		f.closeSession(true)
		return
	}
	if !hasMagic(data) {
		f.createPartition()
		f.requestPartition()
		f.sink.ReportError("No magic in flash partition table, creating new one")
		return
	}

	table, _, crcOK, err := ParseTable(data)
	if err != nil {
		f.sink.ReportError(err.Error())
		f.closeSession(true)
		return
	}
	if !crcOK {
		// salvage over halt: the entries are still parsed and reported
		f.sink.ReportError("CRC error in flash partition table")
	}

	f.state = StateUser
	f.sink.PartitionTable(table)
	f.sink.CloseSession(true)
}

// createPartition enqueues the write sequence for a fresh default table:
// backup copy first, then primary, so the two copies converge even if
// the sequence is cut short.
func (f *FSM) createPartition() {
	data := DefaultTable().Bytes()
	f.sink.Enqueue(flashEraseMsg(backupBlk))
	f.sink.Enqueue(flashWriteMsg(backupAddr, data))
	f.sink.Enqueue(flashEraseMsg(primaryBlk))
	f.sink.Enqueue(flashWriteMsg(primaryAddr, data))
}

// findEntry resolves ref against a parsed table. ok is false when no slot
// matches (or the index is out of range).
func findEntry(table PartitionTable, ref FileRef) (entry PartitionEntry, slot int, ok bool) {
	if ref.ByIndex {
		if ref.Index < 0 || ref.Index >= numEntries {
			return PartitionEntry{}, -1, false
		}
		return table.Entries[ref.Index], ref.Index, true
	}
	for i, e := range table.Entries {
		if ref.matches(e) {
			return e, i, true
		}
	}
	return PartitionEntry{}, -1, false
}
