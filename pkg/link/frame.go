package link

import "github.com/dresearch/go-drbcc/pkg/drbcc/proto"

// Framing bytes.
const (
	startByte byte = 0xFA
	stopByte  byte = 0xFB
	escByte   byte = 0xFC
)

// MaxPayload is the largest payload (command byte + data) a Frame may carry.
const MaxPayload = 140

// Message is a queued outbound unit: a command and its payload bytes (not
// including the toggle bit, which Link stamps in at send time).
type Message struct {
	Cmd     proto.Command
	Payload []byte
}

// frame is the assembled on-wire payload: byte 0 is cmd|toggle, the rest is
// message-specific data. It excludes the trailing CRC bytes once decoded.
type frame struct {
	bytes []byte
}

func (f frame) cmd() proto.Command {
	if len(f.bytes) == 0 {
		return proto.CmdIllegal
	}
	return proto.Command(f.bytes[0] & proto.CommandMask)
}

func (f frame) toggle() bool {
	if len(f.bytes) == 0 {
		return false
	}
	return f.bytes[0]&proto.ToggleBit != 0
}

func (f frame) data() []byte {
	if len(f.bytes) <= 1 {
		return nil
	}
	return f.bytes[1:]
}
