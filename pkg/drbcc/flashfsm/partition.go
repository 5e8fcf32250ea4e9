// Package flashfsm implements the host-side flash orchestration state
// machine: partition-table read/repair, chunked file get/put, file delete,
// and ring-log traversal. It depends only on pkg/link's wire
// types and pkg/drbcc/proto's command/error constants, never on pkg/drbcc
// itself, so that pkg/drbcc can own an FSM instance without an import cycle.
package flashfsm

import (
	"fmt"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
)

// Chunk is the flash transfer unit: reads and writes move at most this many
// bytes per frame.
const Chunk = 128

const (
	blockSize    = 0x1000
	chunkSize    = Chunk
	tableBytes   = 128
	tableDataLen = 120 // bytes [6:126)
	numEntries   = 20
	entrySize    = 6

	primaryAddr = 0x0000
	backupAddr  = 0x1000
	primaryBlk  = 0
	backupBlk   = 1

	partMagic1 = 0xAF
	partMagic2 = 0xFE

	totalBlocks = 1024
	// Blocks 0-3 are reserved for the partition table and its backup.
	reservedBlocks = 4
)

// EntryKind is the 3-bit kind field in bits 6..4 of an entry's type byte.
type EntryKind byte

// Byte-sized entry kinds (bit7 == 0).
const (
	KindFirmwareUpdate   EntryKind = 0
	KindBootloaderUpdate EntryKind = 1
	KindUBootImage       EntryKind = 2
	KindUBootEnv         EntryKind = 3
)

// Block-sized entry kinds (bit7 == 1).
const (
	KindRingLog EntryKind = 6
	KindPersLog EntryKind = 5
	KindFree    EntryKind = 7
)

const emptyNibble = 0xF

// PartitionEntry is one 6-byte partition-table row.
type PartitionEntry struct {
	BlockSized bool
	Kind       EntryKind
	SubIndex   byte
	StartBlock uint16
	Length     uint32 // blocks if BlockSized, else bytes
}

func (e PartitionEntry) typeByte() byte {
	b := byte(e.Kind&0x7) << 4
	b |= e.SubIndex & 0x0F
	if e.BlockSized {
		b |= 0x80
	}
	return b
}

func entryFromTypeByte(b byte) (blockSized bool, kind EntryKind, sub byte) {
	blockSized = b&0x80 != 0
	kind = EntryKind((b >> 4) & 0x07)
	sub = b & 0x0F
	return
}

// Empty reports whether this entry slot is unused (type byte all ones).
func (e PartitionEntry) Empty() bool {
	return e.typeByte() == 0xFF
}

// emptyEntry returns the canonical "unused" entry: all six bytes 0xFF, as
// the device firmware leaves erased slots.
func emptyEntry() PartitionEntry {
	return PartitionEntry{
		BlockSized: true,
		Kind:       EntryKind(emptyNibble & 0x7),
		SubIndex:   emptyNibble,
		StartBlock: 0xFFFF,
		Length:     0xFFFFFF,
	}
}

// endBlockExclusive computes the block one past this entry's occupied range.
func (e PartitionEntry) endBlockExclusive() uint16 {
	if e.BlockSized {
		return e.StartBlock + uint16(e.Length)
	}
	blocks := (e.Length + blockSize - 1) / blockSize
	return e.StartBlock + uint16(blocks)
}

// PartitionTable is the 20-entry table mirrored at flash offsets 0x0000 and
// 0x1000.
type PartitionTable struct {
	Version uint16
	Entries [numEntries]PartitionEntry
}

// DefaultTable builds the table written when flash carries no valid magic:
// entry 0 is the fixed ring-log region, entry 1 the persistent-log region,
// the rest empty. The ring-log placement is fixed in the device firmware
// and must not change.
func DefaultTable() PartitionTable {
	var t PartitionTable
	t.Version = 1
	for i := range t.Entries {
		t.Entries[i] = emptyEntry()
	}
	t.Entries[0] = PartitionEntry{BlockSized: true, Kind: KindRingLog, SubIndex: 0, StartBlock: 4, Length: 508}
	t.Entries[1] = PartitionEntry{BlockSized: true, Kind: KindPersLog, SubIndex: 0, StartBlock: 512, Length: 64}
	return t
}

// Bytes serializes the table into its 128-byte on-flash form: magic,
// version, CRC, then the 20 six-byte entries.
func (t PartitionTable) Bytes() []byte {
	out := make([]byte, tableBytes)
	out[0] = partMagic1
	out[1] = partMagic2
	out[2] = byte(t.Version)
	out[3] = byte(t.Version >> 8)
	for i, e := range t.Entries {
		off := 6 + i*entrySize
		out[off] = e.typeByte()
		out[off+1] = byte(e.StartBlock)
		out[off+2] = byte(e.StartBlock >> 8)
		out[off+3] = byte(e.Length)
		out[off+4] = byte(e.Length >> 8)
		out[off+5] = byte(e.Length >> 16)
	}
	c := crc16(out[6:126])
	out[4] = byte(c)
	out[5] = byte(c >> 8)
	return out
}

// ParseTable decodes a 128-byte flash read into a PartitionTable. It
// reports whether the magic matched and whether the CRC validated; a CRC
// mismatch does not prevent parsing (salvage over halt, mirroring the
// device's own tolerance).
func ParseTable(data []byte) (table PartitionTable, magicOK bool, crcOK bool, err error) {
	if len(data) < 126 {
		return table, false, false, fmt.Errorf("drbcc: partition table read too short (%d bytes)", len(data))
	}
	magicOK = data[0] == partMagic1 && data[1] == partMagic2
	table.Version = uint16(data[2]) | uint16(data[3])<<8
	want := uint16(data[4]) | uint16(data[5])<<8
	got := crc16(data[6:126])
	crcOK = got == want
	for i := 0; i < numEntries; i++ {
		off := 6 + i*entrySize
		blockSized, kind, sub := entryFromTypeByte(data[off])
		table.Entries[i] = PartitionEntry{
			BlockSized: blockSized,
			Kind:       kind,
			SubIndex:   sub,
			StartBlock: uint16(data[off+1]) | uint16(data[off+2])<<8,
			Length:     uint32(data[off+3]) | uint32(data[off+4])<<8 | uint32(data[off+5])<<16,
		}
	}
	return table, magicOK, crcOK, nil
}

// crc16 runs the CCITT variant over data, matching pkg/link's codec (kept
// as a private copy here so flashfsm has no dependency on pkg/link's
// unexported codec internals).
func crc16(data []byte) uint16 {
	c := uint16(0xFFFF)
	for _, b := range data {
		d := b ^ byte(c&0xFF)
		d ^= d << 4
		c = (uint16(d)<<8 | (c >> 8)) ^ uint16(d>>4) ^ (uint16(d) << 3)
	}
	return c
}

// flashReadMsg builds a chunked-read request: <adrh> <adrm> <adrl> <len>.
// The length is sent as given; callers request at most one 128-byte chunk.
func flashReadMsg(addr uint32, length byte) link.Message {
	return link.Message{
		Cmd:     proto.CmdReqFlashRead,
		Payload: addr24Payload(addr, length),
	}
}

func flashWriteMsg(addr uint32, data []byte) link.Message {
	p := addr24Payload(addr, byte(len(data)))
	p = append(p, data...)
	return link.Message{Cmd: proto.CmdReqFlashWrite, Payload: p}
}

func flashEraseMsg(block uint16) link.Message {
	return link.Message{
		Cmd:     proto.CmdReqFlashErase,
		Payload: []byte{byte(block >> 8), byte(block)},
	}
}

// addr24Payload builds the [adrh, adrm, adrl, len] header shared by flash
// read/write requests: a 24-bit flash offset in big-endian order followed
// by a one-byte chunk length.
func addr24Payload(addr uint32, length byte) []byte {
	return []byte{
		byte(addr >> 16), byte(addr >> 8), byte(addr),
		length,
	}
}
