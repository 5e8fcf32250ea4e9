package proto

// PowerState decodes the BCTRL power-state byte carried in status and log
// payloads. The low three bits are the main state; the high bits are
// independent options that may combine with any main state.
type PowerState uint8

const (
	PowerMainStateMask PowerState = 0x07

	PowerUnknown     PowerState = 0
	PowerLithium     PowerState = 1
	PowerKey         PowerState = 2
	PowerStandby     PowerState = 3
	PowerHost        PowerState = 4

	PowerOptKeyEnabled  PowerState = 0x80
	PowerOptExtended    PowerState = 0x40
	PowerOptDCDC        PowerState = 0x20
	PowerOptHDD         PowerState = 0x10
	PowerOptLockCharger PowerState = 0x08
)

// MainState returns the main power state, masking off the option bits.
func (p PowerState) MainState() PowerState { return p & PowerMainStateMask }

// KeyPowerEnabled reports whether VKey activation is latched.
func (p PowerState) KeyPowerEnabled() bool { return p&PowerOptKeyEnabled != 0 }

// ExtendedPowerEnabled reports whether the additional-chips rail is active.
func (p PowerState) ExtendedPowerEnabled() bool { return p&PowerOptExtended != 0 }

// DCDCEnabled reports whether the DC-DC converter rail is active.
func (p PowerState) DCDCEnabled() bool { return p&PowerOptDCDC != 0 }

// HDDPowerEnabled reports whether HDD power is active.
func (p PowerState) HDDPowerEnabled() bool { return p&PowerOptHDD != 0 }

// LockChargerEnabled reports whether the HDD lock charger is enabled.
func (p PowerState) LockChargerEnabled() bool { return p&PowerOptLockCharger != 0 }

var mainStateNames = map[PowerState]string{
	PowerUnknown: "unknown",
	PowerLithium: "lithium",
	PowerKey:     "key",
	PowerStandby: "standby",
	PowerHost:    "host",
}

func (p PowerState) String() string {
	if s, ok := mainStateNames[p.MainState()]; ok {
		return s
	}
	return "unknown"
}

// VoltageID names one of the rails reported as part of STATUS_IND's voltage
// value list (interpretation depends on the board id from IND_ID_DATA).
type VoltageID uint8

const (
	VoltagePowerFilter VoltageID = iota
	VoltagePowerCap
	VoltagePwrCam
	VoltageVKey
	VoltageSupercap
	Voltage12V
	Voltage5V
	VoltageVDD
	Voltage1V8
	Voltage1V2
	Voltage1V
	Voltage3V3D
	Voltage1V5
	VoltageTerm
	VoltageVBat
)

var voltageIDNames = map[VoltageID]string{
	VoltagePowerFilter: "power-filter",
	VoltagePowerCap:    "power-cap",
	VoltagePwrCam:      "pwr-cam",
	VoltageVKey:        "vkey",
	VoltageSupercap:    "supercap",
	Voltage12V:         "12v",
	Voltage5V:          "5v",
	VoltageVDD:         "vdd",
	Voltage1V8:         "1v8",
	Voltage1V2:         "1v2",
	Voltage1V:          "1v",
	Voltage3V3D:        "3v3d",
	Voltage1V5:         "1v5",
	VoltageTerm:        "term",
	VoltageVBat:        "vbat",
}

func (v VoltageID) String() string {
	if s, ok := voltageIDNames[v]; ok {
		return s
	}
	return "unknown-rail"
}
