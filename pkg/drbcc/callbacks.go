package drbcc

import (
	"time"

	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
)

// Callbacks is the set of optional user hooks the dispatcher and the flash
// state machine invoke. Any field left nil is simply never invoked.
type Callbacks struct {
	Error   func(message string)
	Session func(id SessionID, success bool)

	Protocol func(major, minor, fwRunning byte, extra []byte)
	ID       func(board, slot byte, serial []byte)
	RTC      func(t time.Time, epoch byte)
	Status   func(raw []byte)
	Accel    func(eventType byte, x, y, z int16)
	HDOff    func(reason byte, token []byte)

	// Raw flash hooks. Registering any of ReadFlash/WriteFlash/EraseFlash
	// claims the flash indications for the caller and disables the
	// FSM-driven operations (get/put/delete/partition/log); the two modes
	// are mutually exclusive per handle.
	FlashID    func(id []byte)
	ReadFlash  func(addr uint32, data []byte)
	WriteFlash func(addr uint32, length int, result byte)
	EraseFlash func(block uint16, result byte)
	DebugGet   func(addr uint16, data []byte)

	// FSM-driven hooks, invoked by the flash orchestration state machine.
	Partition func(table flashfsm.PartitionTable)
	Progress  func(current, total int)
	GetLog    func(rec flashfsm.LogRecord)
	GetPos    func(block uint16, entry byte, wrap byte)
}

// rawFlashMode reports whether the caller claimed the raw flash hooks.
func (c *Callbacks) rawFlashMode() bool {
	return c.ReadFlash != nil || c.WriteFlash != nil || c.EraseFlash != nil
}
