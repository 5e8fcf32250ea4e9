package link

import (
	"time"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

// Timing constants. The sync-mode ack timeout is stretched to
// accommodate the slower bootloader counterpart.
const (
	ackTimeoutAsync = 40 * time.Millisecond
	ackTimeoutSync  = 250 * time.Millisecond
	answerTimeout   = 1 * time.Second
	maxRetransmits  = 25
)

// Wire is the byte-pipe the link runs on. *Transport implements it over a
// serial port; tests substitute an in-memory pipe.
type Wire interface {
	ReadAvailable() ([]byte, error)
	Write(frame []byte) error
}

// Callbacks lets Link hand policy decisions up to the session/dispatch layer
// without importing it (pkg/drbcc depends on pkg/link, not the reverse).
type Callbacks struct {
	// Dispatch delivers an acked inbound non-ack frame: cmd is the low 7
	// bits of byte 0, data excludes the cmd/toggle byte.
	Dispatch func(cmd proto.Command, data []byte)

	// AckSideEffect fires when an ACK matches the frame Link just sent,
	// before the send toggle is flipped. The session layer closes
	// fire-and-forget sessions here.
	AckSideEffect func(cmd proto.Command)

	// RetransmitExhausted fires when repeat_count would exceed
	// maxRetransmits without a matching ACK.
	RetransmitExhausted func(cmd proto.Command)

	// ToggleMismatch fires when an inbound non-ack frame's toggle bit does
	// not match expected_recv_toggle (duplicate delivery; it has already
	// been acked and discarded by the time this runs).
	ToggleMismatch func(cmd proto.Command)

	// UnexpectedAck fires on an ACK with nothing outstanding.
	UnexpectedAck func()

	// FramingError fires on a CRC failure or truncated frame.
	FramingError func(kind string)

	// SyncEntered fires when an inbound SYNC_ANSWER switches the link into
	// sync_mode.
	SyncEntered func()
}

type pendingFrame struct {
	msg  Message
	wire []byte
}

// Link implements the toggle-bit ARQ state machine: at most one
// frame in flight, bounded retransmission, and the answer window used to pace
// FlashFSM's bulk chunk traffic. It owns the Wire and the two outbound FIFOs;
// the FIFOs themselves are safe for submission from other goroutines, all
// other state is touched only from Step (the Trigger goroutine).
type Link struct {
	w   Wire
	q   *queues
	dec *decoder
	cb  Callbacks

	sendToggle         bool
	expectedRecvToggle bool
	waitForAck         bool
	waitForAnswer      bool
	syncMode           bool

	repeatCount int
	repeatMsg   *pendingFrame

	ackDeadline    time.Time
	answerDeadline time.Time
}

// New constructs a Link bound to an already-open Wire.
func New(w Wire, cb Callbacks) *Link {
	return &Link{
		w:   w,
		q:   newQueues(),
		dec: newDecoder(),
		cb:  cb,
	}
}

// Submit enqueues msg on the priority or secondary FIFO. Safe to
// call from any goroutine.
func (l *Link) Submit(msg Message, priority bool) {
	if priority {
		l.q.pushPriority(msg)
	} else {
		l.q.pushSecondary(msg)
	}
}

// Reset discards all queued traffic and any frame in flight, used when the
// caller is tearing the link down.
func (l *Link) Reset() {
	l.q.reset()
	l.waitForAck = false
	l.waitForAnswer = false
	l.repeatMsg = nil
	l.repeatCount = 0
}

// SyncMode reports whether the peer answered SYNC with SYNC_ANSWER.
func (l *Link) SyncMode() bool {
	return l.syncMode
}

// WaitingForAck reports whether a non-ack frame is in flight. The dispatcher
// consults this for the STATUS_IND session-binding rule.
func (l *Link) WaitingForAck() bool {
	return l.waitForAck
}

// Step performs one iteration of the event pump: drain whatever
// bytes the transport has buffered, process any completed frames, attempt one
// send if the link is free to send, and service the ack/answer deadlines. It
// is meant to be called repeatedly (bounded per trigger) by pkg/drbcc's
// Trigger.
func (l *Link) Step(now time.Time) error {
	raw, err := l.w.ReadAvailable()
	if err != nil {
		return err
	}
	for _, b := range raw {
		l.processByte(b)
	}

	if err := l.trySend(now); err != nil {
		return err
	}

	l.serviceDeadlines(now)
	return nil
}

func (l *Link) processByte(b byte) {
	ev := l.dec.step(b)
	switch {
	case ev.isErr:
		kind := "short-frame"
		if ev.err == errCRC {
			kind = "crc-mismatch"
		}
		if l.cb.FramingError != nil {
			l.cb.FramingError(kind)
		}
	case ev.completed != nil:
		l.handleFrame(frame{bytes: ev.completed})
	}
}

func (l *Link) handleFrame(f frame) {
	switch f.cmd() {
	case proto.CmdAck:
		l.handleAck(f)
		return

	case proto.CmdSyncAnswer:
		// The counterpart is running its bootloader protocol. SYNC_ANSWER
		// stands in for the ack of our SYNC: release the pending frame and
		// switch into the simplified no-toggle mode.
		l.sendToggle = !l.sendToggle
		l.waitForAck = false
		l.repeatMsg = nil
		l.repeatCount = 0
		l.syncMode = true
		if l.cb.SyncEntered != nil {
			l.cb.SyncEntered()
		}
		return
	}

	// Every other frame is acked immediately, mirroring its received
	// toggle, before it is dispatched. A duplicate is still acked, the
	// sender is retransmitting because our previous ack was lost, but it
	// is not re-dispatched.
	if !l.syncMode {
		l.sendAck(f.toggle())
	}

	if l.syncMode || f.toggle() == l.expectedRecvToggle {
		l.expectedRecvToggle = !l.expectedRecvToggle
		if !l.waitForAck {
			// Anything the peer sends while we have no frame in flight
			// ends the answer window; an indication arriving while an
			// unacked request is outstanding is unsolicited.
			l.waitForAnswer = false
		}
		if l.cb.Dispatch != nil {
			l.cb.Dispatch(f.cmd(), f.data())
		}
	} else {
		if l.cb.ToggleMismatch != nil {
			l.cb.ToggleMismatch(f.cmd())
		}
	}

	if l.syncMode {
		l.sendToggle = false
		l.waitForAck = false
		l.waitForAnswer = false
		l.repeatMsg = nil
		l.repeatCount = 0
	}
}

func (l *Link) sendAck(toggle bool) {
	b := byte(proto.CmdAck)
	if toggle {
		b |= proto.ToggleBit
	}
	_ = l.w.Write(encode([]byte{b}))
}

func (l *Link) handleAck(f frame) {
	if !l.waitForAck || l.repeatMsg == nil {
		if l.cb.UnexpectedAck != nil {
			l.cb.UnexpectedAck()
		}
		return
	}

	// An ack must mirror the toggle we stamped on the frame it
	// acknowledges. A stale ack means our frame was lost: retransmit now
	// instead of waiting out the deadline.
	if f.toggle() != l.sendToggle && !l.syncMode {
		l.retransmit()
		return
	}

	cmd := l.repeatMsg.msg.Cmd

	// Session closure on ack happens before the toggle flips.
	if l.cb.AckSideEffect != nil {
		l.cb.AckSideEffect(cmd)
	}

	l.sendToggle = !l.sendToggle
	l.waitForAck = false
	l.repeatMsg = nil
	l.repeatCount = 0
}

func (l *Link) serviceDeadlines(now time.Time) {
	if l.waitForAck && !l.ackDeadline.IsZero() && !now.Before(l.ackDeadline) {
		l.retransmit()
	}
	if l.waitForAnswer && !l.answerDeadline.IsZero() && !now.Before(l.answerDeadline) {
		l.waitForAnswer = false
	}
}

func (l *Link) retransmit() {
	if l.repeatMsg == nil {
		l.waitForAck = false
		return
	}
	if l.repeatCount >= maxRetransmits {
		cmd := l.repeatMsg.msg.Cmd
		l.waitForAck = false
		l.waitForAnswer = false
		l.repeatMsg = nil
		l.repeatCount = 0
		if l.cb.RetransmitExhausted != nil {
			l.cb.RetransmitExhausted(cmd)
		}
		return
	}
	l.repeatCount++
	_ = l.w.Write(l.repeatMsg.wire)
	l.ackDeadline = l.ackDeadline.Add(l.ackTimeout())
}

func (l *Link) ackTimeout() time.Duration {
	if l.syncMode {
		return ackTimeoutSync
	}
	return ackTimeoutAsync
}

// trySend drains the priority FIFO first, then the secondary FIFO if no
// answer is still pending: control traffic always preempts bulk
// FlashFSM chunk traffic, and a chunk's result must be seen before the next
// chunk goes out.
func (l *Link) trySend(now time.Time) error {
	if l.waitForAck {
		return nil
	}
	msg, ok := l.q.popPriority()
	fromSecondary := false
	if !ok {
		if l.waitForAnswer {
			return nil
		}
		msg, ok = l.q.popSecondary()
		if !ok {
			return nil
		}
		fromSecondary = true
	}
	return l.send(msg, fromSecondary, now)
}

func (l *Link) send(msg Message, fromSecondary bool, now time.Time) error {
	if msg.Cmd == proto.CmdSync {
		// The sync frame itself always carries toggle 1, and the
		// peer's first frame after sync is expected with toggle 0.
		l.sendToggle = true
		l.expectedRecvToggle = false
	}

	b0 := byte(msg.Cmd)
	if l.sendToggle {
		b0 |= proto.ToggleBit
	}
	full := make([]byte, 0, 1+len(msg.Payload))
	full = append(full, b0)
	full = append(full, msg.Payload...)
	wire := encode(full)

	if err := l.w.Write(wire); err != nil {
		return err
	}

	if l.syncMode {
		// No ack will come in sync mode; the send itself completes the
		// exchange.
		if l.cb.AckSideEffect != nil {
			l.cb.AckSideEffect(msg.Cmd)
		}
		return nil
	}

	l.waitForAck = true
	if fromSecondary {
		l.waitForAnswer = true
	}
	l.repeatMsg = &pendingFrame{msg: msg, wire: wire}
	l.repeatCount = 0
	l.ackDeadline = now.Add(l.ackTimeout())
	l.answerDeadline = now.Add(answerTimeout)
	return nil
}
