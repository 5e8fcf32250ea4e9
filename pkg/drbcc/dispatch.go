package drbcc

import (
	"fmt"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
)

// dispatch routes one acked inbound frame to its handler. data
// excludes the command/toggle byte; msgLen below counts it back in so the
// length checks read like the wire format documentation.
func (h *Handle) dispatch(cmd proto.Command, data []byte) {
	if h.met != nil {
		h.met.FrameReceived(cmd.String())
	}
	tracef(TraceMessages, "drbcc: received %s (%d bytes)", cmd, len(data)+1)

	msgLen := len(data) + 1
	if msgLen < proto.MinPayload(cmd) {
		h.reportError(fmt.Sprintf("Received too short message content in %s", cmd))
		// The indication did arrive, just malformed; most handlers close
		// their session as success in this case.
		switch cmd {
		case proto.CmdIndProtocolVersion, proto.CmdIndRTCRead, proto.CmdIndFlashID,
			proto.CmdIndFlashRead, proto.CmdIndFlashWriteResult, proto.CmdIndIDData,
			proto.CmdIndDebugGet, proto.CmdIndBLUpdate:
			h.sess.close(true)
		}
		return
	}

	switch cmd {
	case proto.CmdReqProtocolVersion:
		// The counterpart may probe us; answer with this library's version.
		h.lk.Submit(link.Message{
			Cmd:     proto.CmdIndProtocolVersion,
			Payload: []byte{VersionMajor, VersionMinor, 0},
		}, true)

	case proto.CmdIndProtocolVersion:
		if h.cb.Protocol != nil {
			h.cb.Protocol(data[0], data[1], data[2], data[3:])
		}
		h.sess.close(true)

	case proto.CmdIndRTCRead:
		if h.cb.RTC != nil {
			t, epoch := decodeRTC(data)
			h.cb.RTC(t, epoch)
		}
		h.sess.close(true)

	case proto.CmdIndFlashID:
		if h.cb.FlashID != nil {
			h.cb.FlashID(data)
		}
		h.sess.close(true)

	case proto.CmdIndFlashRead:
		h.flashReadInd(data)

	case proto.CmdIndFlashWriteResult:
		h.flashWriteResultInd(data)

	case proto.CmdIndFlashEraseResult:
		block := uint16(data[0])<<8 | uint16(data[1])
		if h.cb.EraseFlash != nil {
			h.cb.EraseFlash(block, data[2])
		}
		if !h.fsm.Active() {
			h.sess.close(true)
		}

	case proto.CmdIndRingLogPos:
		h.logBlock = uint16(data[0])<<8 | uint16(data[1])
		h.logEntry = 0
		h.logWrap = 0
		if len(data) >= 4 {
			h.logEntry = data[2]
			h.logWrap = data[3]
		}
		if h.fsm.OnLogPos(h.logBlock, h.logEntry, h.logWrap) {
			return
		}
		if h.cb.GetPos != nil {
			h.cb.GetPos(h.logBlock, h.logEntry, h.logWrap)
		}
		h.sess.close(true)

	case proto.CmdIndPutLog:
		h.sess.close(true)

	case proto.CmdIndStatus:
		if h.cb.Status != nil {
			h.cb.Status(data)
		}
		// An IND_STATUS arriving while our request is still unacked is an
		// unsolicited push; only close the session when it is ours (the
		// request armed indClosesSession) or nothing is in flight.
		if !h.lk.WaitingForAck() || h.sess.wantsIndicationClose() {
			h.sess.close(true)
		}

	case proto.CmdIndIDData:
		if h.cb.ID != nil {
			h.cb.ID(data[0], data[1], data[2:])
		}
		h.sess.close(true)

	case proto.CmdIndAccelEvent:
		if h.cb.Accel != nil {
			x := int16(uint16(data[1]) | uint16(data[2])<<8)
			y := int16(uint16(data[3]) | uint16(data[4])<<8)
			z := int16(uint16(data[5]) | uint16(data[6])<<8)
			h.cb.Accel(data[0], x, y, z)
		}

	case proto.CmdHDDOffReq:
		if h.cb.HDOff != nil {
			h.cb.HDOff(data[0], data[1:17])
		}

	case proto.CmdIndDebugGet:
		if h.cb.DebugGet != nil {
			addr := uint16(data[0])<<8 | uint16(data[1])
			h.cb.DebugGet(addr, data[3:])
		}
		h.sess.close(true)

	case proto.CmdIndFWInvalidated:
		h.reportError("BCTRL firmware successfully invalidated")
		h.sess.close(true)

	case proto.CmdIndBctrlRestartOK:
		h.reportError("BCTRL restart successfully initiated")
		h.sess.close(true)

	case proto.CmdIndFWUpdateStarted:
		h.reportError("BCTRL firmware update successfully started")

	case proto.CmdIndBLUpdate:
		if data[0] == 1 {
			h.reportError("BCTRL Boot loader update successfully")
		} else {
			h.reportError("BCTRL Boot loader update FAILED")
		}
		h.sess.close(true)

	case proto.CmdAck:
		h.reportError("Received illegal DRBCC_ACK message")

	case proto.CmdSyncCmdError:
		h.reportError("Received DRBCC_SYNC_CMD_ERROR message")

	case proto.CmdIllegal:
		h.reportError("Received illegal message content")

	default:
		h.reportError(fmt.Sprintf("Unknown message ID 0x%X received", byte(cmd)))
	}
}

// flashReadInd delivers one flash chunk: to the raw read callback (with
// chunked continuation) when the caller claimed raw mode, to the FSM
// otherwise.
func (h *Handle) flashReadInd(data []byte) {
	length := int(data[3])
	if len(data) != length+4 {
		h.reportError("Received too short message content in IND_EXTFLASH_READ")
		h.sess.close(true)
		return
	}
	addr := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])

	if h.cb.rawFlashMode() {
		if h.cb.ReadFlash != nil {
			h.cb.ReadFlash(addr, data[4:4+length])
		}
		if h.flashLen > 0 {
			h.reqFlashReadChunk(h.flashAddr, h.flashLen)
		} else {
			h.sess.close(true)
		}
		return
	}
	h.fsm.OnFlashRead(addr, data[4:4+length])
}

// flashWriteResultInd delivers one write result, continuing a raw chunked
// write when more data is pending.
func (h *Handle) flashWriteResultInd(data []byte) {
	addr := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	length := int(data[3])
	result := data[4]

	if h.cb.rawFlashMode() {
		if h.cb.WriteFlash != nil {
			h.cb.WriteFlash(addr, length, result)
		}
		if h.flashLen > 0 {
			h.flashWriteNext()
		} else {
			h.flashData = nil
			h.sess.close(true)
		}
		return
	}
	h.fsm.OnFlashWrite(addr, length, result)
}
