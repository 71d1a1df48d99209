package bytecode

import "fmt"

// Opcode identifies a single VM instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Core execution (0x00-0x0F)
	// ========================================================================

	OpHalt Opcode = 0x00 // Stop execution; pops the exit code
	OpNop  Opcode = 0x01 // No operation

	// ========================================================================
	// Stack manipulation (0x10-0x1F)
	// ========================================================================

	OpPush Opcode = 0x10 // Push immediate operand
	OpPop  Opcode = 0x11 // Pop top of stack, discard
	OpDup  Opcode = 0x12 // Duplicate top of stack
	OpSwap Opcode = 0x13 // Swap top two stack values

	// ========================================================================
	// Arithmetic (0x20-0x27)
	// ========================================================================

	OpAdd Opcode = 0x20 // Pop b, pop a, push a + b
	OpSub Opcode = 0x21 // Pop b, pop a, push a - b
	OpMul Opcode = 0x22 // Pop b, pop a, push a * b
	OpDiv Opcode = 0x23 // Pop b, pop a, push a / b (signed)
	OpMod Opcode = 0x24 // Pop b, pop a, push a % b (signed)
	OpNeg Opcode = 0x25 // Negate top of stack

	// ========================================================================
	// Comparison and logic (0x28-0x2F)
	// ========================================================================

	OpEq  Opcode = 0x28 // Pop two, push 1 if equal else 0
	OpNe  Opcode = 0x29 // Pop two, push 1 if not equal else 0
	OpLt  Opcode = 0x2A // Signed less-than
	OpLe  Opcode = 0x2B // Signed less-or-equal
	OpGt  Opcode = 0x2C // Signed greater-than
	OpGe  Opcode = 0x2D // Signed greater-or-equal
	OpNot Opcode = 0x2E // Push 1 if top is zero else 0

	// ========================================================================
	// Memory (0x30-0x3F)
	// ========================================================================

	OpLoad      Opcode = 0x30 // Pop addr, push 8-byte word at addr
	OpStore     Opcode = 0x31 // Pop value, pop addr, store word at addr
	OpLoadByte  Opcode = 0x32 // Pop addr, push zero-extended byte at addr
	OpStoreByte Opcode = 0x33 // Pop value, pop addr, store low byte at addr
	OpLoadFrame  Opcode = 0x34 // Push word at bp + 8*operand (signed word offset)
	OpStoreFrame Opcode = 0x35 // Pop word into bp + 8*operand
	OpFrameAddr  Opcode = 0x36 // Push the address bp + 8*operand

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJmp   Opcode = 0x40 // Jump to absolute instruction index (operand)
	OpJz    Opcode = 0x41 // Pop condition, jump if zero
	OpJnz   Opcode = 0x42 // Pop condition, jump if non-zero
	OpCall  Opcode = 0x43 // Push return frame, jump to operand
	OpRet   Opcode = 0x44 // Return; operand is the caller-pushed argument count
	OpEnter Opcode = 0x45 // Reserve operand local word slots on the stack

	// ========================================================================
	// System (0xF0-0xFF)
	// ========================================================================

	OpSyscall Opcode = 0xF0 // Invoke syscall; operand is the syscall id
	OpExec    Opcode = 0xF1 // Pop path address, context-switch to that artifact
)

// OpcodeInfo provides metadata about each opcode for validation, gas
// accounting and disassembly.
type OpcodeInfo struct {
	Name       string // Human-readable mnemonic
	StackPop   int    // Values popped from stack (-1 = variable)
	StackPush  int    // Values pushed to stack
	HasOperand bool   // True if the operand is meaningful
	Cost       int64  // Gas charged before the instruction executes
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Core
	OpHalt: {"HALT", 1, 0, false, 1},
	OpNop:  {"NOP", 0, 0, false, 1},

	// Stack
	OpPush: {"PUSH", 0, 1, true, 1},
	OpPop:  {"POP", 1, 0, false, 1},
	OpDup:  {"DUP", 1, 2, false, 1},
	OpSwap: {"SWAP", 2, 2, false, 1},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, false, 1},
	OpSub: {"SUB", 2, 1, false, 1},
	OpMul: {"MUL", 2, 1, false, 1},
	OpDiv: {"DIV", 2, 1, false, 1},
	OpMod: {"MOD", 2, 1, false, 1},
	OpNeg: {"NEG", 1, 1, false, 1},

	// Comparison and logic
	OpEq:  {"EQ", 2, 1, false, 1},
	OpNe:  {"NE", 2, 1, false, 1},
	OpLt:  {"LT", 2, 1, false, 1},
	OpLe:  {"LE", 2, 1, false, 1},
	OpGt:  {"GT", 2, 1, false, 1},
	OpGe:  {"GE", 2, 1, false, 1},
	OpNot: {"NOT", 1, 1, false, 1},

	// Memory
	OpLoad:       {"LOAD", 1, 1, false, 1},
	OpStore:      {"STORE", 2, 0, false, 1},
	OpLoadByte:   {"LOAD_BYTE", 1, 1, false, 1},
	OpStoreByte:  {"STORE_BYTE", 2, 0, false, 1},
	OpLoadFrame:  {"LOAD_FRAME", 0, 1, true, 1},
	OpStoreFrame: {"STORE_FRAME", 1, 0, true, 1},
	OpFrameAddr:  {"FRAME_ADDR", 0, 1, true, 1},

	// Control flow
	OpJmp:   {"JMP", 0, 0, true, 1},
	OpJz:    {"JZ", 1, 0, true, 1},
	OpJnz:   {"JNZ", 1, 0, true, 1},
	OpCall:  {"CALL", 0, 0, true, 1},
	OpRet:   {"RET", 1, 1, true, 1},
	OpEnter: {"ENTER", 0, 0, true, 1},

	// System
	OpSyscall: {"SYSCALL", -1, 1, true, 8},
	OpExec:    {"EXEC", 1, 0, false, 32},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Cost returns the gas charged for executing this opcode.
func (op Opcode) Cost() int64 {
	return GetOpcodeInfo(op).Cost
}

// HasOperand reports whether the 8-byte operand is meaningful for op.
func (op Opcode) HasOperand() bool {
	return GetOpcodeInfo(op).HasOperand
}

// IsComparison reports whether op produces a boolean word (0 or 1).
func (op Opcode) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsJump reports whether op transfers control via its operand.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJmp, OpJz, OpJnz, OpCall:
		return true
	}
	return false
}

// IsTerminal reports whether op can end execution of the current program.
func (op Opcode) IsTerminal() bool {
	return op == OpHalt || op == OpExec
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that every opcode has metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
