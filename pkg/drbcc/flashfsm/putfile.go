package flashfsm

import (
	"fmt"
	"os"
)

// runSpan is one contiguous run of equally-used blocks in the free/used map
// built over blocks 4..1023.
type runSpan struct {
	start int
	end   int // inclusive
	free  bool
}

func (r runSpan) size() int { return r.end - r.start + 1 }

// putFileRead drives the PutFile operation once the partition table arrives:
// pick a target region, enqueue the erase/write chunk stream on the bulk
// FIFO, and finally rewrite both table copies with the new entry.
func (f *FSM) putFileRead(addr uint32, data []byte) {
	if addr != primaryAddr {
		f.sink.ReportError("Wrong flash space used for partition table!")
		f.closeSession(true)
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

	// Blocks 0-3 hold the table copies and reserved space; every non-empty
	// entry marks its block range busy. An entry matching the ref is
	// cleared for reuse, which also releases its old blocks for the fit
	// search below.
	var blocks [totalBlocks]bool
	for i := 0; i < reservedBlocks; i++ {
		blocks[i] = true
	}
	targetSlot := -1
	for i := range table.Entries {
		e := table.Entries[i]
		if targetSlot == -1 && e.Empty() {
			targetSlot = i
		}
		if f.ref.matches(e) {
			targetSlot = i
			table.Entries[i] = emptyEntry()
			continue
		}
		if e.Empty() {
			continue
		}
		for b := e.StartBlock; b < e.endBlockExclusive() && int(b) < totalBlocks; b++ {
			blocks[b] = true
		}
	}

	if targetSlot == -1 {
		f.sink.ReportError("Put flash file failed, partition table full")
		f.closeSession(true)
		return
	}

	required := (f.maxFileLen + blockSize - 1) / blockSize
	run, ok := smallestFreeRun(blocks[:], required)
	if !ok {
		f.sink.ReportError("Put flash file failed, no space left")
		f.closeSession(true)
		return
	}

	content, err := os.ReadFile(f.curName)
	if err != nil || len(content) < f.maxFileLen {
		f.sink.ReportError(fmt.Sprintf("Cant read %d bytes from file during put flash file operation", f.maxFileLen))
		f.closeSession(true)
		return
	}

	f.curFileStart = uint32(run.start) * blockSize
	f.curFileLen = 0
	writeAddr := f.curFileStart
	for off := 0; off < f.maxFileLen; off += chunkSize {
		if off%blockSize == 0 {
			f.sink.Enqueue(flashEraseMsg(uint16(off/blockSize + run.start)))
		}
		n := chunkSize
		if off+n > f.maxFileLen {
			n = f.maxFileLen - off
		}
		f.sink.Enqueue(flashWriteMsg(writeAddr, content[off:off+n]))
		writeAddr += uint32(n)
	}

	table.Entries[targetSlot] = PartitionEntry{
		BlockSized: false,
		Kind:       f.ref.Kind,
		SubIndex:   f.ref.SubIndex,
		StartBlock: uint16(run.start),
		Length:     uint32(f.maxFileLen),
	}
	f.commitTable(table)
}

// commitTable enqueues the four-step table rewrite, backup copy first.
func (f *FSM) commitTable(table PartitionTable) {
	data := table.Bytes()
	f.sink.Enqueue(flashEraseMsg(backupBlk))
	f.sink.Enqueue(flashWriteMsg(backupAddr, data))
	f.sink.Enqueue(flashEraseMsg(primaryBlk))
	f.sink.Enqueue(flashWriteMsg(primaryAddr, data))
}

// smallestFreeRun builds the run-length map of blocks 4..1023 and picks the
// smallest free run that still fits required blocks, earliest among equals.
func smallestFreeRun(blocks []bool, required int) (runSpan, bool) {
	var runs []runSpan
	for i := reservedBlocks; i < len(blocks); i++ {
		used := blocks[i]
		if len(runs) == 0 || runs[len(runs)-1].free == used {
			runs = append(runs, runSpan{start: i, end: i, free: !used})
		} else {
			runs[len(runs)-1].end = i
		}
	}

	best := runSpan{}
	found := false
	for _, r := range runs {
		if !r.free || r.size() < required {
			continue
		}
		if !found || r.size() < best.size() {
			best = r
			found = true
		}
	}
	return best, found
}

// putFileWriteResult accounts one chunk's write result. Data chunks advance
// the progress callback; the final table write at address 0 completes the
// operation.
func (f *FSM) putFileWriteResult(addr uint32, length int, result byte) {
	if result == 0 {
		f.sink.ReportError("Flash file error result")
		f.closeSession(false)
		return
	}
	if addr != primaryAddr && addr != backupAddr {
		f.curFileLen += length
	}
	f.sink.Progress(f.curFileLen, f.maxFileLen)
	if addr == primaryAddr && f.curFileLen == f.maxFileLen {
		f.sink.ReportError("Put flash file successfully done")
		f.closeSession(true)
	}
}
