// Package drbcc is the host-side library for talking to the BCTRL board
// controller over its framed serial protocol: request submission, session
// tracking, callback dispatch, and the flash orchestration state machine.
package drbcc

import (
	"log"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
	"github.com/dresearch/go-drbcc/pkg/metrics"
)

// Protocol version this library reports in IND_PROTOCOL_VERSION replies.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// Trace categories for Init's tracemask; a set bit enables the category's
// log lines.
const (
	TraceTransport uint = 1 << iota
	TraceMessages
	TraceQueue
)

var (
	traceMu   sync.Mutex
	traceMask uint
)

// Init sets the global trace mask. It is idempotent; all per-connection
// state lives behind Open.
func Init(mask uint) {
	traceMu.Lock()
	traceMask = mask
	traceMu.Unlock()
}

// Term is Init's counterpart; connection teardown happens in Close.
func Term() {
	Init(0)
}

func tracef(cat uint, format string, args ...interface{}) {
	traceMu.Lock()
	enabled := traceMask&cat != 0
	traceMu.Unlock()
	if enabled {
		log.Printf(format, args...)
	}
}

// Handle is one BCTRL connection: the serial link, the single session slot,
// the registered callbacks, and the flash state machine. Obtain one with
// Open, connect it with Start, and drive it with Trigger.
type Handle struct {
	transport *link.Transport
	lk        *link.Link
	sess      *session
	cb        Callbacks
	fsm       *flashfsm.FSM
	met       *metrics.Metrics

	started bool

	// The first SYNC after Start is a bootstrap: its ack must not fire the
	// session callback.
	firstSyncPending bool

	// Raw-mode chunked flash read/write continuation.
	flashAddr uint32
	flashPos  int
	flashLen  int
	flashData []byte

	// Last ring-log cursor delivered by the device.
	logBlock uint16
	logEntry byte
	logWrap  byte

	// opID correlates all log lines of one session's lifetime.
	opID xid.ID
}

// Open allocates a fresh, unconnected handle.
func Open() *Handle {
	h := &Handle{sess: newSession()}
	h.fsm = flashfsm.New((*fsmSink)(h))
	return h
}

// SetCallbacks installs the user's callback set. Call before Start.
func (h *Handle) SetCallbacks(cb Callbacks) {
	h.cb = cb
	h.sess.onClose = func(id SessionID, success bool) {
		if h.met != nil {
			h.met.SessionClosed(success)
		}
		tracef(TraceMessages, "drbcc: session %d closed success=%v op=%s", id, success, h.opID)
		if h.cb.Session != nil {
			h.cb.Session(id, success)
		}
	}
}

// SetMetrics wires an optional metrics collector into the link and session
// paths.
func (h *Handle) SetMetrics(m *metrics.Metrics) {
	h.met = m
}

// Start opens the serial device and emits the bootstrap SYNC. The
// handle is ready for requests afterwards; call Trigger to make progress.
func (h *Handle) Start(dev string, baud link.BaudRate) proto.RC {
	t, err := link.OpenTransport(dev, baud)
	if err != nil {
		log.Printf("drbcc: %v", err)
		return proto.SystemError
	}
	h.transport = t
	h.startOnWire(t)
	return proto.NoError
}

// startOnWire finishes Start on an arbitrary Wire; tests use it to run the
// full stack over an in-memory pipe.
func (h *Handle) startOnWire(w link.Wire) {
	h.lk = link.New(w, link.Callbacks{
		Dispatch:            h.dispatch,
		AckSideEffect:       h.ackSideEffect,
		RetransmitExhausted: h.retransmitExhausted,
		ToggleMismatch:      h.toggleMismatch,
		UnexpectedAck:       func() { h.reportError("Received unexpected ack message") },
		FramingError:        h.framingError,
		SyncEntered:         func() { tracef(TraceTransport, "drbcc: entered sync mode") },
	})
	h.started = true

	// The first sync request is sent without a session; no session
	// callback may be called for it.
	h.firstSyncPending = true
	h.lk.Submit(link.Message{Cmd: proto.CmdSync}, true)
}

// Stop detaches the callback set; the handle may be Started again.
func (h *Handle) Stop() proto.RC {
	if !h.started {
		return proto.WrongState
	}
	h.cb = Callbacks{}
	return proto.NoError
}

// Close tears down queues and releases the serial handle.
func (h *Handle) Close() proto.RC {
	if h.lk != nil {
		h.lk.Reset()
	}
	if h.transport != nil {
		if err := h.transport.Close(); err != nil {
			log.Printf("drbcc: close: %v", err)
			return proto.SystemError
		}
		h.transport = nil
	}
	h.started = false
	return proto.NoError
}

// Trigger performs up to maxLoops iterations of the event pump: read and
// dispatch inbound frames, send pending outbound frames, service the ack
// and answer deadlines. It may be run on a dedicated goroutine
// while requests are submitted from others.
func (h *Handle) Trigger(maxLoops int) proto.RC {
	if !h.started {
		return proto.WrongState
	}
	for i := 0; i < maxLoops; i++ {
		if err := h.lk.Step(time.Now()); err != nil {
			log.Printf("drbcc: trigger: %v", err)
			return proto.SystemError
		}
	}
	return proto.NoError
}

// Run drives Trigger until stop is closed, with a short idle pause between
// pump rounds. A convenience for callers that dedicate a goroutine to the
// handle.
func (h *Handle) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		h.Trigger(10)
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *Handle) reportError(message string) {
	tracef(TraceMessages, "drbcc: %s", message)
	if h.cb.Error != nil {
		h.cb.Error(message)
	}
}

// ackSideEffect closes fire-and-forget sessions when the ack for their
// request arrives: sync, heartbeat, shutdown, LED-set,
// debug-set, HD-eject. The bootstrap sync is exempt.
func (h *Handle) ackSideEffect(cmd proto.Command) {
	if cmd == proto.CmdSync && h.firstSyncPending {
		h.firstSyncPending = false
		return
	}
	if proto.ClosesSessionOnAck(cmd) {
		h.sess.close(true)
	}
}

func (h *Handle) retransmitExhausted(cmd proto.Command) {
	if h.met != nil {
		h.met.RetransmitExhausted()
	}
	h.reportError("ERROR: Sending failed after repeat counter reached maximum")
	h.fsm.Abort()
	h.sess.close(false)
}

func (h *Handle) toggleMismatch(cmd proto.Command) {
	h.reportError("TOGGLE_BIT ERROR")
	h.fsm.Abort()
	h.sess.close(false)
}

func (h *Handle) framingError(kind string) {
	if h.met != nil {
		h.met.FramingError(kind)
	}
	tracef(TraceTransport, "drbcc: framing error: %s", kind)
}

// fsmSink adapts Handle to flashfsm.Sink without exporting the methods on
// Handle itself.
type fsmSink Handle

func (s *fsmSink) Enqueue(msg link.Message) {
	h := (*Handle)(s)
	tracef(TraceQueue, "drbcc: enqueue bulk %s op=%s", msg.Cmd, h.opID)
	h.lk.Submit(msg, false)
}

func (s *fsmSink) ReportError(message string) {
	(*Handle)(s).reportError(message)
}

func (s *fsmSink) CloseSession(success bool) {
	(*Handle)(s).sess.close(success)
}

func (s *fsmSink) Progress(current, total int) {
	h := (*Handle)(s)
	if h.cb.Progress != nil {
		h.cb.Progress(current, total)
	}
}

func (s *fsmSink) PartitionTable(table flashfsm.PartitionTable) {
	h := (*Handle)(s)
	if h.cb.Partition != nil {
		h.cb.Partition(table)
	}
}

func (s *fsmSink) LogRecord(rec flashfsm.LogRecord) {
	h := (*Handle)(s)
	if h.cb.GetLog != nil {
		h.cb.GetLog(rec)
	}
}
