// Package proto defines the wire-level constants of the BCTRL protocol:
// command ids, the toggle bit, error kinds, and the small set of typed
// enumerations (log event codes, power state bits, voltage ids) that give
// meaning to otherwise-opaque payload bytes.
package proto

// Command identifies a BCTRL request, indication, or control frame. Bit 7 of
// the on-wire byte is the toggle bit and is never part of Command itself.
type Command uint8

// ToggleBit is bit 7 of the first payload byte, alternated per direction for
// exactly-once delivery of non-ack frames.
const ToggleBit uint8 = 0x80

// CommandMask strips the toggle bit from a raw wire byte.
const CommandMask uint8 = 0x7F

// Command identifiers of the BCTRL wire protocol.
const (
	CmdAck                   Command = 0
	CmdSync                  Command = 1
	CmdSyncAnswer            Command = 2
	CmdReqProtocolVersion    Command = 3
	CmdIndProtocolVersion    Command = 4
	CmdReqRTCRead            Command = 5
	CmdIndRTCRead            Command = 6
	CmdReqRTCSet             Command = 7
	CmdReqFlashID            Command = 8
	CmdIndFlashID            Command = 9
	CmdReqFlashRead          Command = 10
	CmdIndFlashRead          Command = 11
	CmdReqFlashWrite         Command = 12
	CmdIndFlashWriteResult   Command = 13
	CmdReqFlashErase         Command = 14
	CmdIndFlashEraseResult   Command = 15
	CmdReqFWInvalidate       Command = 16
	CmdIndFWInvalidated      Command = 17
	CmdReqBctrlRestart       Command = 18
	CmdIndBctrlRestartOK     Command = 19
	CmdReqSetLED             Command = 20
	CmdIndFWUpdateStarted    Command = 21
	CmdReqBLUpdate           Command = 22
	CmdIndBLUpdate           Command = 23
	CmdReqHeartbeat          Command = 24
	CmdReqStatus             Command = 25
	CmdIndStatus             Command = 26
	CmdReqHDEject            Command = 27
	CmdReqHDOnOff            Command = 28
	CmdReqGPIPower           Command = 29
	CmdReqPutLog             Command = 30
	CmdIndPutLog             Command = 31
	CmdReqRingLogPos         Command = 32
	CmdIndRingLogPos         Command = 33
	CmdReqSetGPO             Command = 36
	CmdReqShutdown           Command = 37
	CmdReqIDData             Command = 38
	CmdIndIDData             Command = 39
	CmdIndKeyProcessing      Command = 44
	CmdClearRingLog          Command = 45
	CmdHDDOffReq             Command = 50
	CmdReqDebugSet           Command = 51
	CmdReqDebugGet           Command = 52
	CmdIndDebugGet           Command = 53
	CmdIndAccelEvent         Command = 54
	CmdSyncCmdError          Command = 127
	CmdIllegal               Command = 255
)

// minPayload is the minimum payload length (including the command byte
// itself) the Dispatcher requires before handing a frame to its handler; a
// shorter payload is reported via the error callback.
var minPayload = map[Command]int{
	CmdIndProtocolVersion:  4,
	CmdIndRTCRead:          9,
	CmdIndFlashID:          4,
	CmdIndFlashRead:        5,
	CmdIndFlashWriteResult: 6,
	CmdIndFlashEraseResult: 4,
	CmdIndBLUpdate:         2,
	CmdIndStatus:           2,
	CmdIndPutLog:           1,
	CmdIndRingLogPos:       3,
	CmdIndIDData:           4,
	CmdHDDOffReq:           18,
	CmdIndDebugGet:         4,
	CmdIndAccelEvent:       8,
}

// MinPayload returns the minimum acceptable payload length for cmd, or 1 if
// the command is not one the Dispatcher validates by length.
func MinPayload(cmd Command) int {
	if n, ok := minPayload[cmd]; ok {
		return n
	}
	return 1
}

// String names a command for logging.
func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN_COMMAND"
}

var commandNames = map[Command]string{
	CmdAck:                 "ACK",
	CmdSync:                "SYNC",
	CmdSyncAnswer:          "SYNC_ANSWER",
	CmdReqProtocolVersion:  "REQ_PROTOCOL_VERSION",
	CmdIndProtocolVersion:  "IND_PROTOCOL_VERSION",
	CmdReqRTCRead:          "REQ_RTC_READ",
	CmdIndRTCRead:          "IND_RTC_READ",
	CmdReqRTCSet:           "REQ_RTC_SET",
	CmdReqFlashID:          "REQ_FLASH_ID",
	CmdIndFlashID:          "IND_FLASH_ID",
	CmdReqFlashRead:        "REQ_FLASH_READ",
	CmdIndFlashRead:        "IND_FLASH_READ",
	CmdReqFlashWrite:       "REQ_FLASH_WRITE",
	CmdIndFlashWriteResult: "IND_FLASH_WRITE_RESULT",
	CmdReqFlashErase:       "REQ_FLASH_ERASE",
	CmdIndFlashEraseResult: "IND_FLASH_ERASE_RESULT",
	CmdReqFWInvalidate:     "REQ_FW_INVALIDATE",
	CmdIndFWInvalidated:    "IND_FW_INVALIDATED",
	CmdReqBctrlRestart:     "REQ_BCTRL_RESTART",
	CmdIndBctrlRestartOK:   "IND_BCTRL_RESTART_ACCEPTED",
	CmdReqSetLED:           "REQ_SET_LED",
	CmdIndFWUpdateStarted:  "IND_FW_UPDATE_STARTED",
	CmdReqBLUpdate:         "REQ_BL_UPDATE",
	CmdIndBLUpdate:         "IND_BL_UPDATE",
	CmdReqHeartbeat:        "REQ_HEARTBEAT",
	CmdReqStatus:           "REQ_STATUS",
	CmdIndStatus:           "IND_STATUS",
	CmdReqHDEject:          "REQ_HD_EJECT",
	CmdReqHDOnOff:          "REQ_HD_ONOFF",
	CmdReqGPIPower:         "REQ_GPI_POWER",
	CmdReqPutLog:           "REQ_PUT_LOG",
	CmdIndPutLog:           "IND_PUT_LOG",
	CmdReqRingLogPos:       "REQ_RINGLOG_POS",
	CmdIndRingLogPos:       "IND_RINGLOG_POS",
	CmdReqSetGPO:           "REQ_SET_GPO",
	CmdReqShutdown:         "REQ_SHUTDOWN",
	CmdReqIDData:           "REQ_ID_DATA",
	CmdIndIDData:           "IND_ID_DATA",
	CmdIndKeyProcessing:    "IND_KEY_PROCESSING",
	CmdClearRingLog:        "CLEAR_RINGLOG_REQ",
	CmdHDDOffReq:           "HDD_OFF_REQ",
	CmdReqDebugSet:         "REQ_DEBUG_SET",
	CmdReqDebugGet:         "REQ_DEBUG_GET",
	CmdIndDebugGet:         "IND_DEBUG_GET",
	CmdIndAccelEvent:       "IND_ACCEL_EVENT",
	CmdSyncCmdError:        "SYNC_CMD_ERROR",
	CmdIllegal:             "CMD_ILLEGAL",
}

// fireAndForget lists the requests whose matching ACK alone closes their
// session: sync, heartbeat, shutdown, LED-set, debug-set, HD-eject.
var fireAndForget = map[Command]bool{
	CmdSync:         true,
	CmdReqHeartbeat: true,
	CmdReqShutdown:  true,
	CmdReqSetLED:    true,
	CmdReqDebugSet:  true,
	CmdReqHDEject:   true,
}

// ClosesSessionOnAck reports whether an ACK of cmd closes its session by
// itself, without waiting for a further indication.
func ClosesSessionOnAck(cmd Command) bool {
	return fireAndForget[cmd]
}
