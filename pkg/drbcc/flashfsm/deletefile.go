package flashfsm

// deleteRead drives the DeleteFile operation once the partition table
// arrives: clear the selected entry to 0xFF, recompute the CRC, and rewrite
// both copies. The session stays open until the primary write result.
func (f *FSM) deleteRead(addr uint32, data []byte) {
	if addr != primaryAddr {
		f.sink.ReportError("Wrong flash space used for partition table!")
		f.closeSession(true)
		return
	}
	if len(data) < 126 {
		f.sink.ReportError("Delete: partition table is too short!")
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

	if _, slot, ok := findEntry(table, f.ref); ok {
		table.Entries[slot] = emptyEntry()
	}
	f.commitTable(table)
}

// deleteWriteResult closes the operation on the primary copy's write result;
// a failed backup write aborts early.
func (f *FSM) deleteWriteResult(addr uint32, result byte) {
	if addr == backupAddr {
		if result == 0 {
			f.sink.ReportError("Delete flash file failed!")
			f.closeSession(false)
		}
		return
	}
	if addr != primaryAddr {
		return
	}
	if result != 0 {
		f.sink.ReportError("Flash file successfully deleted.")
	} else {
		f.sink.ReportError("Delete flash file failed!")
	}
	f.closeSession(result != 0)
}
