package drbcc

import (
	"os"
	"time"

	"github.com/rs/xid"

	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
)

// maxPutLogPayload bounds a host-written log record.
const maxPutLogPayload = 128

// maxDebugPayload bounds a debug-set write: message length minus command,
// address and length bytes.
const maxDebugPayload = link.MaxPayload - 4

// submit allocates the session slot for cmd and enqueues payload on the
// priority FIFO. All simple request builders funnel through here.
func (h *Handle) submit(cmd proto.Command, payload []byte, indCloses bool) (SessionID, proto.RC) {
	if !h.started {
		return 0, proto.WrongState
	}
	id, rc := h.sess.submit(indCloses)
	if rc != proto.NoError {
		return 0, rc
	}
	h.opID = xid.New()
	tracef(TraceQueue, "drbcc: submit %s session=%d op=%s", cmd, id, h.opID)
	h.lk.Submit(link.Message{Cmd: cmd, Payload: payload}, true)
	return id, proto.NoError
}

// Sync requests a link resynchronisation: toggle bits reset on both ends.
func (h *Handle) Sync() (SessionID, proto.RC) {
	return h.submit(proto.CmdSync, nil, false)
}

// ReqProtocol asks the counterpart for its protocol version.
func (h *Handle) ReqProtocol() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqProtocolVersion, nil, false)
}

// ReqRTC reads the device's real-time clock.
func (h *Handle) ReqRTC() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqRTCRead, nil, false)
}

// SetRTC sets the device's real-time clock from a UTC time.
func (h *Handle) SetRTC(t time.Time) (SessionID, proto.RC) {
	enc := encodeRTC(t)
	return h.submit(proto.CmdReqRTCSet, enc[:], false)
}

// SetGPO switches a general-purpose output.
func (h *Handle) SetGPO(gpo, onoff byte) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqSetGPO, []byte{gpo, onoff}, true)
}

// SetLED sets an LED's color. Non-zero on/off times enable flashing aligned
// to the device's minute counter, shifted by phase.
func (h *Handle) SetLED(num, color, on, off, phase byte) (SessionID, proto.RC) {
	payload := []byte{num, color}
	if on != 0 || off != 0 {
		payload = append(payload, on, off, phase)
	}
	return h.submit(proto.CmdReqSetLED, payload, false)
}

// GetStatus requests a status indication. The next IND_STATUS is bound to
// this session.
func (h *Handle) GetStatus() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqStatus, nil, true)
}

// GetIDData requests the board's identity record.
func (h *Handle) GetIDData() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqIDData, nil, false)
}

// Heartbeat arms the device's host watchdog for the given number of seconds.
func (h *Handle) Heartbeat(seconds uint16) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqHeartbeat, []byte{byte(seconds >> 8), byte(seconds)}, false)
}

// Shutdown announces a host shutdown taking at most the given number of
// seconds.
func (h *Handle) Shutdown(seconds uint16) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqShutdown, []byte{byte(seconds >> 8), byte(seconds)}, false)
}

// EjectHD asks the device to run its HD eject sequence.
func (h *Handle) EjectHD() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqHDEject, nil, false)
}

// HDPower switches the HD power rail.
func (h *Handle) HDPower(on bool) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqHDOnOff, []byte{boolByte(on)}, true)
}

// GPIPower switches the GPI sensor supply rail.
func (h *Handle) GPIPower(on bool) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqGPIPower, []byte{boolByte(on)}, true)
}

// InvalidateFW marks the device firmware image invalid, forcing the
// bootloader to stay resident on the next restart.
func (h *Handle) InvalidateFW() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqFWInvalidate, nil, false)
}

// RestartBctrl restarts the board controller after the given delay.
func (h *Handle) RestartBctrl(when byte) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqBctrlRestart, []byte{when}, false)
}

// RequestBootloaderUpdate asks the running firmware to install a previously
// uploaded bootloader image.
func (h *Handle) RequestBootloaderUpdate() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqBLUpdate, nil, false)
}

// ReqFlashID reads the flash chip's identification bytes.
func (h *Handle) ReqFlashID() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqFlashID, nil, false)
}

// DebugSet writes data into the device's debug address space.
func (h *Handle) DebugSet(addr uint16, data []byte) (SessionID, proto.RC) {
	if len(data) > maxDebugPayload {
		return 0, proto.MsgTooLong
	}
	payload := append([]byte{byte(addr >> 8), byte(addr), byte(len(data))}, data...)
	return h.submit(proto.CmdReqDebugSet, payload, false)
}

// DebugGet reads from the device's debug address space.
func (h *Handle) DebugGet(addr uint16) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqDebugGet, []byte{byte(addr >> 8), byte(addr)}, false)
}

// PutLog appends a host-written record to the selected device log.
func (h *Handle) PutLog(ring bool, data []byte) (SessionID, proto.RC) {
	if len(data) > maxPutLogPayload {
		return 0, proto.MsgTooLong
	}
	payload := append([]byte{boolByte(ring), byte(len(data))}, data...)
	return h.submit(proto.CmdReqPutLog, payload, false)
}

// GetPos requests the ring log's current write cursor.
func (h *Handle) GetPos() (SessionID, proto.RC) {
	return h.submit(proto.CmdReqRingLogPos, []byte{0}, false)
}

// ClearLog erases the ring log.
func (h *Handle) ClearLog() (SessionID, proto.RC) {
	return h.submit(proto.CmdClearRingLog, nil, false)
}

// ReqFlashRead reads an arbitrary flash byte range through the raw read
// callback, in 128-byte chunks.
func (h *Handle) ReqFlashRead(addr uint32, length int) (SessionID, proto.RC) {
	if !h.started {
		return 0, proto.WrongState
	}
	id, rc := h.sess.submit(false)
	if rc != proto.NoError {
		return 0, rc
	}
	h.opID = xid.New()
	h.reqFlashReadChunk(addr, length)
	return id, proto.NoError
}

// reqFlashReadChunk enqueues one 128-byte read and records the remainder
// for continuation from the read indication handler.
func (h *Handle) reqFlashReadChunk(addr uint32, length int) {
	size := chunkLen(length)
	h.lk.Submit(link.Message{
		Cmd:     proto.CmdReqFlashRead,
		Payload: []byte{byte(addr >> 16), byte(addr >> 8), byte(addr), byte(size)},
	}, true)
	h.flashAddr = addr + uint32(size)
	h.flashLen = length - size
}

// ReqFlashWrite writes an arbitrary flash byte range through the raw write
// callback, in 128-byte chunks. The target range must be word aligned.
func (h *Handle) ReqFlashWrite(addr uint32, data []byte) (SessionID, proto.RC) {
	if !h.started {
		return 0, proto.WrongState
	}
	if addr%2 != 0 || len(data)%2 != 0 {
		return 0, proto.Unspecified
	}
	id, rc := h.sess.submit(false)
	if rc != proto.NoError {
		return 0, rc
	}
	h.opID = xid.New()
	h.flashAddr = addr
	h.flashPos = 0
	h.flashLen = len(data)
	h.flashData = append([]byte(nil), data...)
	h.flashWriteNext()
	return id, proto.NoError
}

// flashWriteNext enqueues the next pending 128-byte write chunk.
func (h *Handle) flashWriteNext() {
	size := chunkLen(h.flashLen)
	payload := make([]byte, 0, 4+size)
	payload = append(payload,
		byte(h.flashAddr>>16), byte(h.flashAddr>>8), byte(h.flashAddr), byte(size))
	payload = append(payload, h.flashData[h.flashPos:h.flashPos+size]...)
	h.lk.Submit(link.Message{Cmd: proto.CmdReqFlashWrite, Payload: payload}, true)
	h.flashAddr += uint32(size)
	h.flashPos += size
	h.flashLen -= size
}

// ReqFlashEraseBlock erases one 4 KiB flash block.
func (h *Handle) ReqFlashEraseBlock(block uint16) (SessionID, proto.RC) {
	return h.submit(proto.CmdReqFlashErase, []byte{byte(block >> 8), byte(block)}, false)
}

// GetPartitionTable reads the on-flash partition table, repairing or
// creating it as needed, and reports it via the partition callback.
func (h *Handle) GetPartitionTable() (SessionID, proto.RC) {
	id, rc := h.beginFlashOp(proto.CmdReqFlashRead)
	if rc != proto.NoError {
		return 0, rc
	}
	h.fsm.StartPartitionRead()
	return id, proto.NoError
}

// GetFile copies the flash region in partition slot index into the local
// file at path.
func (h *Handle) GetFile(index int, path string) (SessionID, proto.RC) {
	return h.getFile(flashfsm.FileRef{ByIndex: true, Index: index}, path)
}

// GetFileType copies the flash region registered under (kind, subIndex)
// into the local file at path.
func (h *Handle) GetFileType(kind flashfsm.EntryKind, subIndex byte, path string) (SessionID, proto.RC) {
	return h.getFile(flashfsm.FileRef{Kind: kind, SubIndex: subIndex}, path)
}

func (h *Handle) getFile(ref flashfsm.FileRef, path string) (SessionID, proto.RC) {
	if h.sess.active() {
		return 0, proto.SessionActive
	}
	fd, err := os.Create(path)
	if err != nil {
		return 0, proto.InvalidFilename
	}
	fd.Close()

	id, rc := h.beginFlashOp(proto.CmdReqFlashRead)
	if rc != proto.NoError {
		return 0, rc
	}
	h.fsm.StartGetFile(ref, path)
	return id, proto.NoError
}

// PutFile writes the local file at path into a free flash region and
// registers it under (kind, subIndex).
func (h *Handle) PutFile(kind flashfsm.EntryKind, subIndex byte, path string) (SessionID, proto.RC) {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= 0 {
		return 0, proto.InvalidFilename
	}

	id, rc := h.beginFlashOp(proto.CmdReqFlashWrite)
	if rc != proto.NoError {
		return 0, rc
	}
	h.fsm.StartPutFile(flashfsm.FileRef{Kind: kind, SubIndex: subIndex}, path, int(info.Size()))
	return id, proto.NoError
}

// UploadFirmware stores a firmware image for the device to install; the
// image always uses sub-index 0.
func (h *Handle) UploadFirmware(path string) (SessionID, proto.RC) {
	return h.PutFile(flashfsm.KindFirmwareUpdate, 0, path)
}

// UploadBootloader stores a bootloader image for the device to install.
func (h *Handle) UploadBootloader(path string) (SessionID, proto.RC) {
	return h.PutFile(flashfsm.KindBootloaderUpdate, 0, path)
}

// DeleteFile clears partition slot index.
func (h *Handle) DeleteFile(index int) (SessionID, proto.RC) {
	return h.deleteFile(flashfsm.FileRef{ByIndex: true, Index: index})
}

// DeleteFileType clears the partition entry registered under (kind,
// subIndex).
func (h *Handle) DeleteFileType(kind flashfsm.EntryKind, subIndex byte) (SessionID, proto.RC) {
	return h.deleteFile(flashfsm.FileRef{Kind: kind, SubIndex: subIndex})
}

func (h *Handle) deleteFile(ref flashfsm.FileRef) (SessionID, proto.RC) {
	id, rc := h.beginFlashOp(proto.CmdReqFlashWrite)
	if rc != proto.NoError {
		return 0, rc
	}
	h.fsm.StartDelete(ref)
	return id, proto.NoError
}

// LogWindowMode selects which slice of the log GetLog retrieves.
type LogWindowMode int

const (
	// LogAll retrieves the whole backlog.
	LogAll LogWindowMode = iota
	// LogLastN retrieves the N most recent records.
	LogLastN
	// LogFromN retrieves records from absolute entry index N onward.
	LogFromN
)

// LogWindow selects the slice of the log a GetLog call retrieves.
type LogWindow struct {
	Mode LogWindowMode
	N    int
}

// logAllSentinel is larger than any log region's entry count, triggering
// the "all" branch of the traversal windowing.
const logAllSentinel = 1 << 30

func (w LogWindow) entries() int {
	switch w.Mode {
	case LogLastN:
		return -w.N
	case LogFromN:
		return w.N
	default:
		return logAllSentinel
	}
}

// GetLog retrieves log records from the ring log (ring=true) or the
// persistent log, delivering each via the getlog callback.
func (h *Handle) GetLog(ring bool, window LogWindow) (SessionID, proto.RC) {
	id, rc := h.beginFlashOp(proto.CmdReqFlashRead)
	if rc != proto.NoError {
		return 0, rc
	}
	h.fsm.StartGetLog(ring, window.entries())
	if ring {
		h.lk.Submit(link.Message{Cmd: proto.CmdReqRingLogPos, Payload: []byte{0}}, true)
	}
	return id, proto.NoError
}

// beginFlashOp allocates a session for an FSM-driven flash operation,
// refusing when the caller claimed the raw flash callbacks.
func (h *Handle) beginFlashOp(cmd proto.Command) (SessionID, proto.RC) {
	if !h.started {
		return 0, proto.WrongState
	}
	if h.cb.rawFlashMode() {
		return 0, proto.CallbackRegistered
	}
	id, rc := h.sess.submit(false)
	if rc != proto.NoError {
		return 0, rc
	}
	h.opID = xid.New()
	tracef(TraceQueue, "drbcc: flash op %s session=%d op=%s", cmd, id, h.opID)
	return id, proto.NoError
}

func chunkLen(length int) int {
	if length >= flashfsm.Chunk {
		return flashfsm.Chunk
	}
	return length
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
