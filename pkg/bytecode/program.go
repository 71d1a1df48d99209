package bytecode

import (
	"encoding/binary"
	"fmt"
)

// FormatVersion is the current bytecode artifact format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for bytecode artifacts: "PRIM".
var Magic = []byte{'P', 'R', 'I', 'M'}

// InstructionWidth is the serialized size of one instruction:
// a one-byte opcode followed by an 8-byte big-endian operand.
const InstructionWidth = 9

// headerSize is the fixed artifact header length:
// magic(4) + version(2) + flags(2) + entry(4) + count(4) + rodata(4) + data(4).
const headerSize = 24

// Instruction is one fixed-width opcode+operand tuple. The operand is
// always present in the encoding; it is zero when the opcode ignores it.
type Instruction struct {
	Op      Opcode
	Operand int64
}

func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Program is a complete compiled artifact: an instruction sequence
// addressable by index, the data segment, and the entry point.
// A Program is immutable once emitted.
type Program struct {
	Version uint16
	Entry   int // Entry point instruction index

	Code []Instruction

	// Data is the full data segment: string/array literals first
	// (read-only once loaded), then global variable storage.
	Data []byte

	// RODataLen is the length of the read-only literal prefix of Data.
	RODataLen int
}

// Validate checks internal consistency of the program without loading it:
// known opcodes, in-range jump and call targets, and a sane entry point.
func (p *Program) Validate() error {
	if p.Entry < 0 || p.Entry >= len(p.Code) {
		return fmt.Errorf("entry point %d out of range (0..%d)", p.Entry, len(p.Code)-1)
	}
	if p.RODataLen < 0 || p.RODataLen > len(p.Data) {
		return fmt.Errorf("read-only data length %d exceeds data segment %d", p.RODataLen, len(p.Data))
	}
	for i, in := range p.Code {
		if !in.Op.Valid() {
			return fmt.Errorf("instruction %d: unknown opcode 0x%02X", i, byte(in.Op))
		}
		if in.Op.IsJump() {
			if in.Operand < 0 || in.Operand >= int64(len(p.Code)) {
				return fmt.Errorf("instruction %d: %s target %d out of range", i, in.Op, in.Operand)
			}
		}
		if in.Op == OpEnter && in.Operand < 0 {
			return fmt.Errorf("instruction %d: ENTER with negative slot count %d", i, in.Operand)
		}
		if in.Op == OpRet && in.Operand < 0 {
			return fmt.Errorf("instruction %d: RET with negative argument count %d", i, in.Operand)
		}
	}
	return nil
}

// Encode serializes the program to the stable artifact format.
// Encoding is deterministic: identical programs produce identical bytes.
func (p *Program) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	buf := make([]byte, 0, headerSize+len(p.Code)*InstructionWidth+len(p.Data))

	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint16(buf, 0) // flags, reserved
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.Entry))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Code)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.RODataLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Data)))

	for _, in := range p.Code {
		buf = append(buf, byte(in.Op))
		buf = binary.BigEndian.AppendUint64(buf, uint64(in.Operand))
	}

	buf = append(buf, p.Data...)
	return buf, nil
}

// Decode parses an artifact produced by Encode. It rejects malformed
// input before any instruction can reach a VM.
func Decode(data []byte) (*Program, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("artifact too short: need at least %d bytes, got %d", headerSize, len(data))
	}
	if string(data[0:4]) != string(Magic) {
		return nil, fmt.Errorf("invalid artifact magic: expected %q, got %q", Magic, data[0:4])
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version > FormatVersion {
		return nil, fmt.Errorf("artifact version %d is newer than supported version %d", version, FormatVersion)
	}

	entry := binary.BigEndian.Uint32(data[8:12])
	count := binary.BigEndian.Uint32(data[12:16])
	roLen := binary.BigEndian.Uint32(data[16:20])
	dataLen := binary.BigEndian.Uint32(data[20:24])

	need := headerSize + int(count)*InstructionWidth + int(dataLen)
	if len(data) != need {
		return nil, fmt.Errorf("artifact length mismatch: header describes %d bytes, got %d", need, len(data))
	}

	p := &Program{
		Version:   version,
		Entry:     int(entry),
		Code:      make([]Instruction, count),
		RODataLen: int(roLen),
	}

	pos := headerSize
	for i := range p.Code {
		p.Code[i].Op = Opcode(data[pos])
		p.Code[i].Operand = int64(binary.BigEndian.Uint64(data[pos+1 : pos+9]))
		pos += InstructionWidth
	}

	p.Data = make([]byte, dataLen)
	copy(p.Data, data[pos:])

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return p, nil
}
