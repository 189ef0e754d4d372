package bff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// InstructionSize is the fixed width of one BFO instruction slot.
const InstructionSize = 8

var (
	errTruncatedInstruction = errors.New("bff: truncated instruction slot")
	errTruncatedHeader      = errors.New("bff: truncated BFO header")
	errTruncatedStringTable = errors.New("bff: truncated BFO string table")
	errBadInstructionSize   = errors.New("bff: code section is not a multiple of the instruction size")
)

// Version is stamped into every BFO header's three version fields.
// original_source's constants::VERSION is (0, 1, 0); kept identical so a
// file produced by either toolchain round-trips against the other.
var Version = [3]uint16{0, 1, 0}

// Converts bytes -> uint32, assuming the given bytes are at least a
// sequence of 4 and were encoded little endian.
func uint32FromBytes(bytes []byte) uint32 {
	return binary.LittleEndian.Uint32(bytes)
}

func float32FromBytes(bytes []byte) float32 {
	return math.Float32frombits(uint32FromBytes(bytes))
}

// Converts uint32 to a sequence of 4 bytes encoded little endian.
func uint32ToBytes(u uint32, bytes []byte) {
	binary.LittleEndian.PutUint32(bytes, u)
}

func float32ToBytes(f float32, bytes []byte) {
	uint32ToBytes(math.Float32bits(f), bytes)
}

// Encode serializes one instruction into its fixed 8-byte BFO slot. Every
// schema writes its operands at the same offsets Decode reads them from
// (see the switch below), which is what makes Encode/Decode a bijection
// for every opcode rather than something to verify case by case.
func Encode(instr Instruction) [InstructionSize]byte {
	var b [InstructionSize]byte
	b[0] = byte(instr.Op)

	switch instr.Op.schema() {
	case schemaRRR:
		b[1], b[2], b[3] = instr.A, instr.B, instr.C
	case schemaRRI:
		b[1], b[2] = instr.A, instr.B
		uint32ToBytes(instr.Imm, b[4:8])
	case schemaRRRR:
		b[1], b[2], b[3], b[4] = instr.A, instr.B, instr.C, instr.D
	case schemaRRRI:
		b[1], b[2], b[3] = instr.A, instr.B, instr.C
		uint32ToBytes(instr.Imm, b[4:8])
	case schemaRR:
		b[1], b[2] = instr.A, instr.B
	case schemaRI:
		b[1] = instr.A
		uint32ToBytes(instr.Imm, b[3:7])
	case schemaI:
		uint32ToBytes(instr.Imm, b[3:7])
	case schemaIW:
		uint32ToBytes(instr.Imm, b[1:5])
		b[5], b[6] = instr.A, instr.B
	case schemaRRW:
		b[1], b[2], b[3] = instr.A, instr.B, instr.C
	case schemaR:
		b[1] = instr.A
	case schemaNone:
	}
	return b
}

// Decode reverses Encode. Decode(Encode(x)) == x, and Encode(Decode(b)) == b
// for every slot with a valid opcode byte whose padding bytes are zero
// (Encode always writes padding as zero), since both directions use the
// same offsets as Encode's switch.
func Decode(b [InstructionSize]byte) (Instruction, error) {
	op := Opcode(b[0])
	if !op.valid() {
		return Instruction{}, fmt.Errorf("bff: unrecognized opcode byte %d", b[0])
	}

	instr := Instruction{Op: op}
	switch op.schema() {
	case schemaRRR:
		instr.A, instr.B, instr.C = b[1], b[2], b[3]
	case schemaRRI:
		instr.A, instr.B = b[1], b[2]
		instr.Imm = uint32FromBytes(b[4:8])
	case schemaRRRR:
		instr.A, instr.B, instr.C, instr.D = b[1], b[2], b[3], b[4]
	case schemaRRRI:
		instr.A, instr.B, instr.C = b[1], b[2], b[3]
		instr.Imm = uint32FromBytes(b[4:8])
	case schemaRR:
		instr.A, instr.B = b[1], b[2]
	case schemaRI:
		instr.A = b[1]
		instr.Imm = uint32FromBytes(b[3:7])
	case schemaI:
		instr.Imm = uint32FromBytes(b[3:7])
	case schemaIW:
		instr.Imm = uint32FromBytes(b[1:5])
		instr.A, instr.B = b[5], b[6]
	case schemaRRW:
		instr.A, instr.B, instr.C = b[1], b[2], b[3]
	case schemaR:
		instr.A = b[1]
	case schemaNone:
	}
	return instr, nil
}

// StringTableEntry is one entry of the BFO string table: a literal string
// placed at a fixed byte address in the VM's addressable memory, for use
// with SystemCall's write syscall.
type StringTableEntry struct {
	Address uint32
	Value   string
}

// Program is a fully assembled/decoded BFO unit: a version stamp, a
// string table (possibly empty), and the instruction stream.
type Program struct {
	Version      [3]uint16
	Strings      []StringTableEntry
	Instructions []Instruction
}

// WriteBFO serializes a Program into the BFO binary format: an 8-byte
// header (3x u16 LE version fields + 2 reserved zero bytes), an 8-byte LE
// string-table count followed by that many (length, address, bytes)
// entries, then the 8-byte-aligned instruction body. The string-table
// preamble is always emitted, even when empty (count=0), per the
// original writer's convention (core/src/engine/program.rs).
func WriteBFO(p Program) []byte {
	out := make([]byte, 0, 16+len(p.Instructions)*InstructionSize)

	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], p.Version[0])
	binary.LittleEndian.PutUint16(header[2:4], p.Version[1])
	binary.LittleEndian.PutUint16(header[4:6], p.Version[2])
	out = append(out, header[:]...)

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(p.Strings)))
	out = append(out, count[:]...)

	for _, s := range p.Strings {
		var lenAddr [8]byte
		binary.LittleEndian.PutUint32(lenAddr[0:4], uint32(len(s.Value)))
		binary.LittleEndian.PutUint32(lenAddr[4:8], s.Address)
		out = append(out, lenAddr[:]...)
		out = append(out, s.Value...)
	}

	for _, instr := range p.Instructions {
		slot := Encode(instr)
		out = append(out, slot[:]...)
	}
	return out
}

// ReadBFO parses bytes produced by WriteBFO. A version mismatch is
// reported to stderr by the caller (see cmd/bffvm) rather than treated as
// fatal, matching bfo_reader.rs's eprintln-only handling.
func ReadBFO(data []byte) (Program, error) {
	if len(data) < 16 {
		return Program{}, errTruncatedHeader
	}

	var p Program
	p.Version[0] = binary.LittleEndian.Uint16(data[0:2])
	p.Version[1] = binary.LittleEndian.Uint16(data[2:4])
	p.Version[2] = binary.LittleEndian.Uint16(data[4:6])

	index := 8
	count := binary.LittleEndian.Uint64(data[index : index+8])
	index += 8

	p.Strings = make([]StringTableEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if index+8 > len(data) {
			return Program{}, errTruncatedStringTable
		}
		strLen := binary.LittleEndian.Uint32(data[index : index+4])
		addr := binary.LittleEndian.Uint32(data[index+4 : index+8])
		index += 8
		if index+int(strLen) > len(data) {
			return Program{}, errTruncatedStringTable
		}
		p.Strings = append(p.Strings, StringTableEntry{
			Address: addr,
			Value:   string(data[index : index+int(strLen)]),
		})
		index += int(strLen)
	}

	remaining := data[index:]
	if len(remaining)%InstructionSize != 0 {
		return Program{}, errBadInstructionSize
	}

	p.Instructions = make([]Instruction, 0, len(remaining)/InstructionSize)
	for i := 0; i < len(remaining); i += InstructionSize {
		var slot [InstructionSize]byte
		copy(slot[:], remaining[i:i+InstructionSize])
		instr, err := Decode(slot)
		if err != nil {
			return Program{}, err
		}
		p.Instructions = append(p.Instructions, instr)
	}
	return p, nil
}
