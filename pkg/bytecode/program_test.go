package bytecode

import (
	"bytes"
	"testing"
)

func sampleProgram() *Program {
	return &Program{
		Version: FormatVersion,
		Entry:   2,
		Code: []Instruction{
			{Op: OpEnter, Operand: 1},
			{Op: OpRet, Operand: 0},
			{Op: OpCall, Operand: 0},
			{Op: OpHalt},
		},
		Data:      []byte("hello\x00\x00\x00"),
		RODataLen: 6,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prog := sampleProgram()

	encoded, err := prog.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.HasPrefix(encoded, Magic) {
		t.Errorf("artifact does not start with magic %q", Magic)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Entry != prog.Entry {
		t.Errorf("Entry = %d, want %d", decoded.Entry, prog.Entry)
	}
	if decoded.RODataLen != prog.RODataLen {
		t.Errorf("RODataLen = %d, want %d", decoded.RODataLen, prog.RODataLen)
	}
	if len(decoded.Code) != len(prog.Code) {
		t.Fatalf("Code length = %d, want %d", len(decoded.Code), len(prog.Code))
	}
	for i := range prog.Code {
		if decoded.Code[i] != prog.Code[i] {
			t.Errorf("Code[%d] = %v, want %v", i, decoded.Code[i], prog.Code[i])
		}
	}
	if !bytes.Equal(decoded.Data, prog.Data) {
		t.Errorf("Data = %v, want %v", decoded.Data, prog.Data)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	prog := sampleProgram()
	a, err := prog.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	b, err := prog.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same program differ")
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	good, err := sampleProgram().Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", good[:10]},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"truncated body", good[:len(good)-3]},
		{"trailing garbage", append(append([]byte{}, good...), 1, 2, 3)},
	}
	for _, tc := range tests {
		if _, err := Decode(tc.data); err == nil {
			t.Errorf("Decode(%s) succeeded, want error", tc.name)
		}
	}
}

func TestValidateRejectsBadPrograms(t *testing.T) {
	tests := []struct {
		name string
		prog *Program
	}{
		{"entry out of range", &Program{Entry: 5, Code: []Instruction{{Op: OpHalt}}}},
		{"unknown opcode", &Program{Entry: 0, Code: []Instruction{{Op: Opcode(0xEE)}}}},
		{"jump out of range", &Program{Entry: 0, Code: []Instruction{{Op: OpJmp, Operand: 99}}}},
		{"call out of range", &Program{Entry: 0, Code: []Instruction{{Op: OpCall, Operand: -1}}}},
		{"negative enter", &Program{Entry: 0, Code: []Instruction{{Op: OpEnter, Operand: -2}}}},
		{"rodata beyond data", &Program{Entry: 0, Code: []Instruction{{Op: OpHalt}}, RODataLen: 4}},
	}
	for _, tc := range tests {
		if err := tc.prog.Validate(); err == nil {
			t.Errorf("Validate(%s) succeeded, want error", tc.name)
		}
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	encoded, err := sampleProgram().Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	encoded[4] = 0xFF // bump the big-endian version field
	if _, err := Decode(encoded); err == nil {
		t.Error("Decode accepted an artifact from a newer format version")
	}
}
