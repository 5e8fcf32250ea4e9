package proto

// RC is the stable error-kind taxonomy request functions return. Callers
// across the public API surface switch on specific kinds (e.g.
// SessionActive) rather than unwrapping error chains.
type RC int

const (
	NoError RC = iota
	SystemError
	Unspecified
	NoStandbyPower
	MissingStart
	MsgTooLong
	UnexpectedStart
	MsgTooShort
	CrcError
	DeviceLocked
	MsgTimeout
	OutOfMemory
	WrongState
	NotInitialized
	InvalidHandle
	CallbackRegistered
	InvalidFilename
	SessionActive
)

var rcStrings = map[RC]string{
	NoError:             "DRBCC: no error",
	SystemError:         "DRBCC: system error",
	Unspecified:         "DRBCC: unspecified error",
	NoStandbyPower:      "DRBCC: no standby power",
	MissingStart:        "DRBCC: missing start character",
	MsgTooLong:          "DRBCC: message too long",
	UnexpectedStart:     "DRBCC: unexpected start character",
	MsgTooShort:         "DRBCC: message too short",
	CrcError:            "DRBCC: message CRC error",
	DeviceLocked:        "DRBCC: device locked",
	MsgTimeout:          "DRBCC: message timeout",
	OutOfMemory:         "DRBCC: out of memory",
	WrongState:          "DRBCC: wrong state",
	NotInitialized:      "DRBCC: not initialized",
	InvalidHandle:       "DRBCC: invalid handle",
	CallbackRegistered:  "DRBCC: callback already registered",
	InvalidFilename:     "DRBCC: invalid filename",
	SessionActive:       "DRBCC: session active",
}

// Error satisfies the error interface so RC can be returned and wrapped
// alongside conventional Go errors where convenient, without losing the
// stable kind a caller might switch on.
func (rc RC) Error() string {
	if s, ok := rcStrings[rc]; ok {
		return s
	}
	return "DRBCC: unknown error"
}
