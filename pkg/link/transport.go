package link

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// BaudRate is the closed set of bit rates the BCTRL link supports.
type BaudRate int

const (
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud921600 BaudRate = 921600
)

// Transport owns the serial handle: blocking open, non-blocking-style
// buffered reads, and writes. go.bug.st/serial exposes raw 8N1 mode
// configuration directly, so no manual termios fiddling is needed.
type Transport struct {
	port serial.Port

	readBuf  []byte
	writeBuf []byte
}

// OpenTransport opens dev at baud in raw 8N1 mode. The read buffer is sized
// to one maximum on-wire frame, the write buffer to two.
func OpenTransport(dev string, baud BaudRate) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: int(baud),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(dev, mode)
	if err != nil {
		return nil, fmt.Errorf("drbcc: open serial port %s: %w", dev, err)
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("drbcc: configure read timeout: %w", err)
	}

	maxWire := 2*(MaxPayload+2) + 2
	return &Transport{
		port:     port,
		readBuf:  make([]byte, maxWire),
		writeBuf: make([]byte, 2*maxWire),
	}, nil
}

// Write blocks until the frame is handed to the kernel write buffer; the
// caller maps a failure to SystemError.
func (t *Transport) Write(frame []byte) error {
	if len(frame) > len(t.writeBuf) {
		return fmt.Errorf("drbcc: frame of %d bytes exceeds write buffer", len(frame))
	}
	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("drbcc: write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("drbcc: short write (%d of %d bytes)", n, len(frame))
	}
	return nil
}

// ReadAvailable performs a single non-blocking-style read (bounded by the
// configured read timeout) and returns whatever bytes arrived, if any.
func (t *Transport) ReadAvailable() ([]byte, error) {
	n, err := t.port.Read(t.readBuf)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("drbcc: read: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, t.readBuf[:n])
	return out, nil
}

// Close releases the underlying serial handle.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}
