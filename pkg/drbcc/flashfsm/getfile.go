package flashfsm

import (
	"fmt"
	"os"
)

// getFileRead drives the GetFile operation. The first read
// delivers the partition table (addr 0); every later read is file content
// appended to the local file at its flash-relative offset.
func (f *FSM) getFileRead(addr uint32, data []byte) {
	if addr != primaryAddr {
		f.appendChunk(addr, data)
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

	e, _, ok := findEntry(table, f.ref)
	if !ok || e.Empty() {
		f.sink.ReportError("Invalid flash file, empty entry")
		f.closeSession(true)
		return
	}
	if e.Length == 0 {
		f.sink.ReportError("Invalid flash file, size 0")
		f.closeSession(true)
		return
	}

	f.curFileStart = uint32(e.StartBlock) * blockSize
	f.curFileLen = 0
	if e.BlockSized {
		f.maxFileLen = int(e.Length) * blockSize
	} else {
		f.maxFileLen = int(e.Length)
	}
	f.startRead(f.curFileStart, f.maxFileLen)
}

// appendChunk writes one flash chunk into the destination file at offset
// addr-curFileStart and requests the next chunk until the region is drained.
func (f *FSM) appendChunk(addr uint32, data []byte) {
	fd, err := os.OpenFile(f.curName, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		f.sink.ReportError(fmt.Sprintf("open file %s failed: %v", f.curName, err))
		f.closeSession(true)
		return
	}
	defer fd.Close()

	if _, err := fd.WriteAt(data, int64(addr-f.curFileStart)); err != nil {
		f.sink.ReportError(fmt.Sprintf("writing %d byte(s) flash data to file %s failed: %v", len(data), f.curName, err))
		f.closeSession(true)
		return
	}

	f.curFileLen += len(data)
	f.sink.Progress(f.curFileLen, f.maxFileLen)
	if f.curFileLen == f.maxFileLen {
		f.state = StateUser
		f.sink.ReportError("Get flash file successfully done")
		f.sink.CloseSession(true)
		return
	}
	f.continueRead()
}
