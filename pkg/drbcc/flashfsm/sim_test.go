package flashfsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
)

// flashSim is a Sink backed by an in-memory NOR flash model: enqueued chunk
// frames are executed against mem and their results fed back into the FSM,
// so whole operations round-trip without a device.
type flashSim struct {
	t   *testing.T
	fsm *FSM

	mem   []byte
	queue []link.Message

	// captured sink activity
	sent     []link.Message
	errors   []string
	closed   []bool
	progress [][2]int
	tables   []PartitionTable
	records  []LogRecord
}

func newFlashSim(t *testing.T) *flashSim {
	s := &flashSim{t: t, mem: make([]byte, totalBlocks*blockSize)}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	s.fsm = New(s)
	return s
}

func (s *flashSim) Enqueue(msg link.Message) {
	s.sent = append(s.sent, msg)
	s.queue = append(s.queue, msg)
}

func (s *flashSim) ReportError(message string) { s.errors = append(s.errors, message) }
func (s *flashSim) CloseSession(success bool)  { s.closed = append(s.closed, success) }
func (s *flashSim) Progress(current, total int) {
	s.progress = append(s.progress, [2]int{current, total})
}
func (s *flashSim) PartitionTable(table PartitionTable) { s.tables = append(s.tables, table) }
func (s *flashSim) LogRecord(rec LogRecord)             { s.records = append(s.records, rec) }

// drain executes queued frames in FIFO order until the queue is empty,
// feeding read data and write results back into the FSM the way the device
// would.
func (s *flashSim) drain() {
	for len(s.queue) > 0 {
		msg := s.queue[0]
		s.queue = s.queue[1:]

		switch msg.Cmd {
		case proto.CmdReqFlashRead:
			addr := uint32(msg.Payload[0])<<16 | uint32(msg.Payload[1])<<8 | uint32(msg.Payload[2])
			n := int(msg.Payload[3])
			data := make([]byte, n)
			copy(data, s.mem[addr:int(addr)+n])
			s.fsm.OnFlashRead(addr, data)

		case proto.CmdReqFlashWrite:
			addr := uint32(msg.Payload[0])<<16 | uint32(msg.Payload[1])<<8 | uint32(msg.Payload[2])
			n := int(msg.Payload[3])
			copy(s.mem[addr:], msg.Payload[4:4+n])
			s.fsm.OnFlashWrite(addr, n, 1)

		case proto.CmdReqFlashErase:
			block := int(msg.Payload[0])<<8 | int(msg.Payload[1])
			start := block * blockSize
			for i := start; i < start+blockSize; i++ {
				s.mem[i] = 0xFF
			}

		default:
			s.t.Fatalf("simulator cannot execute %s", msg.Cmd)
		}
	}
}

// installTable writes a serialized table into both flash copies directly.
func (s *flashSim) installTable(table PartitionTable) {
	data := table.Bytes()
	copy(s.mem[primaryAddr:], data)
	copy(s.mem[backupAddr:], data)
}

func (s *flashSim) requireClosed(success bool) {
	require.NotEmpty(s.t, s.closed, "operation did not close its session")
	require.Equal(s.t, success, s.closed[len(s.closed)-1])
}
