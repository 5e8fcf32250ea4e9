package proto

// LogEvent is the first byte of a 16-byte ring-log entry. Code 1 (extension)
// and 0xFF (empty) are load-bearing for the traversal algorithm; the rest
// mirrors the firmware's event table so log consumers can render a
// human-meaningful event name instead of a bare byte.
type LogEvent uint8

const (
	LogEventExtension     LogEvent = 1
	LogEventRAMLogOverrun LogEvent = 2
	LogEventIllBoardID    LogEvent = 3
	LogEventIllPowerState LogEvent = 4
	LogEventPowerLoss     LogEvent = 5
	LogEventHostEntry     LogEvent = 6
	LogEventPowerChanged  LogEvent = 7
	LogEventIllInterrupt  LogEvent = 8
	LogEventHDDChanged    LogEvent = 9
	LogEventKeyDetected   LogEvent = 10
	LogEventKeyRejected   LogEvent = 11
	LogEventKeySuccess    LogEvent = 12
	LogEventUnlockError   LogEvent = 13
	LogEventKeyCommError  LogEvent = 14
	LogEventKeyHeaderErr  LogEvent = 15
	LogEventRTCSet        LogEvent = 16
	LogEventCommTimeout   LogEvent = 17
	LogEventVoltageInfo   LogEvent = 18
	LogEventLogCleared    LogEvent = 19
	LogEventHDDUsableOn   LogEvent = 20
	LogEventFWUpdate      LogEvent = 21
	LogEventBLUpdate      LogEvent = 22
	LogEventFWReboot      LogEvent = 23
	LogEventOvertempOff   LogEvent = 24
	LogEventTempLimit     LogEvent = 25
	LogEventAccelEvent    LogEvent = 26
	LogEventEmpty         LogEvent = 0xFF
)

var logEventNames = map[LogEvent]string{
	LogEventExtension:     "extension",
	LogEventRAMLogOverrun: "ram-log-overrun",
	LogEventIllBoardID:    "illegal-board-id",
	LogEventIllPowerState: "illegal-power-state",
	LogEventPowerLoss:     "power-loss",
	LogEventHostEntry:     "host-entry",
	LogEventPowerChanged:  "power-changed",
	LogEventIllInterrupt:  "illegal-interrupt",
	LogEventHDDChanged:    "hdd-changed",
	LogEventKeyDetected:   "key-detected",
	LogEventKeyRejected:   "key-rejected",
	LogEventKeySuccess:    "key-success",
	LogEventUnlockError:   "unlock-error",
	LogEventKeyCommError:  "key-comm-error",
	LogEventKeyHeaderErr:  "key-header-error",
	LogEventRTCSet:        "rtc-set",
	LogEventCommTimeout:   "comm-timeout",
	LogEventVoltageInfo:   "voltage-info",
	LogEventLogCleared:    "log-cleared",
	LogEventHDDUsableOn:   "hdd-usable-on",
	LogEventFWUpdate:      "fw-update",
	LogEventBLUpdate:      "bl-update",
	LogEventFWReboot:      "fw-reboot",
	LogEventOvertempOff:   "overtemp-off",
	LogEventTempLimit:     "temp-limit",
	LogEventAccelEvent:    "accel-event",
	LogEventEmpty:         "empty",
}

// String names a log event code, falling back to "unknown" for event codes
// the firmware may emit that this host build does not yet recognize —
// ring-log traversal must never fail just because it saw an unfamiliar code.
func (e LogEvent) String() string {
	if s, ok := logEventNames[e]; ok {
		return s
	}
	return "unknown"
}
