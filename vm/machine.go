package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/primvm/prim/pkg/bytecode"
	"github.com/primvm/prim/vfs"
)

// ---------------------------------------------------------------------------
// Machine: the bytecode interpreter
// ---------------------------------------------------------------------------
//
// One Machine owns one flat memory arena, one VFS arena, and one gas
// budget. Execution is single-threaded and host-driven: the only
// suspension point is the boundary of Tick. Nothing in the step loop
// depends on wall-clock time, so identical call sequences against the
// same program produce byte-identical output.

// Default resource limits.
const (
	DefaultMemorySize int64 = 1 << 20 // 1 MiB
	DefaultGasBudget  int64 = 1_000_000
)

// maxPathLen bounds NUL-terminated path strings read from guest memory.
const maxPathLen = 4096

// Config holds per-machine resource limits.
type Config struct {
	// MemorySize is the flat memory extent in bytes.
	MemorySize int64

	// GasBudget is the total gas for the machine's lifetime, EXEC
	// context switches included.
	GasBudget int64
}

func (c Config) withDefaults() Config {
	if c.MemorySize <= 0 {
		c.MemorySize = DefaultMemorySize
	}
	if c.GasBudget <= 0 {
		c.GasBudget = DefaultGasBudget
	}
	return c
}

// Machine is one VM instance. Create with New, feed with Load, advance
// with Tick. A machine is not safe for concurrent use.
type Machine struct {
	id  uuid.UUID
	cfg Config
	fs  *vfs.Store

	mem       []byte
	code      []bytecode.Instruction
	rodataEnd int64 // first writable data address
	brk       int64 // heap break, grows upward
	pc        int
	sp        int64 // stack pointer, grows downward, top element at [sp]
	bp        int64
	gas       int64

	status   Status
	haltCode int64
	fault    *Fault

	output bytes.Buffer
	input  []byte
}

// New creates a machine with an empty VFS arena and no loaded program.
func New(cfg Config) *Machine {
	cfg = cfg.withDefaults()
	return &Machine{
		id:     uuid.New(),
		cfg:    cfg,
		fs:     vfs.NewStore(),
		mem:    make([]byte, cfg.MemorySize),
		status: StatusHalted,
	}
}

// ID returns the machine instance id.
func (m *Machine) ID() uuid.UUID { return m.id }

// VFS returns the machine's file system arena. The arena survives EXEC
// context switches; it is shared state across programs within one
// machine lifetime, never across machines.
func (m *Machine) VFS() *vfs.Store { return m.fs }

// Status returns the lifecycle state.
func (m *Machine) Status() Status { return m.status }

// HaltCode returns the guest exit code; meaningful only when halted.
func (m *Machine) HaltCode() int64 { return m.haltCode }

// Fault returns the fault context, or nil when the machine has not faulted.
func (m *Machine) Fault() *Fault { return m.fault }

// PC returns the current program counter.
func (m *Machine) PC() int { return m.pc }

// Gas returns the remaining gas.
func (m *Machine) Gas() int64 { return m.gas }

// Load places a program into fresh machine state and arms execution.
// It resets the gas budget and the I/O buffers; the VFS arena is kept.
func (m *Machine) Load(prog *bytecode.Program) error {
	if err := prog.Validate(); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if bytecode.DataBase+int64(len(prog.Data)) > m.cfg.MemorySize {
		return fmt.Errorf("load: data segment (%d bytes) does not fit in %d bytes of memory", len(prog.Data), m.cfg.MemorySize)
	}
	m.reload(prog)
	m.gas = m.cfg.GasBudget
	m.output.Reset()
	m.input = nil
	return nil
}

// reload resets the memory arena for prog without touching gas, the VFS,
// or the I/O buffers. This is the EXEC context switch primitive.
func (m *Machine) reload(prog *bytecode.Program) {
	for i := range m.mem {
		m.mem[i] = 0
	}
	copy(m.mem[bytecode.DataBase:], prog.Data)

	m.code = prog.Code
	m.rodataEnd = bytecode.DataBase + int64(prog.RODataLen)
	m.brk = bytecode.AlignWord(bytecode.DataBase + int64(len(prog.Data)))
	m.pc = prog.Entry
	m.sp = m.cfg.MemorySize
	m.bp = m.cfg.MemorySize
	m.status = StatusRunning
	m.haltCode = 0
	m.fault = nil
}

// ReadOutput drains and returns the accumulated stdout buffer.
func (m *Machine) ReadOutput() []byte {
	out := make([]byte, m.output.Len())
	copy(out, m.output.Bytes())
	m.output.Reset()
	return out
}

// SendInput enqueues bytes for the guest to consume by reading the
// /dev/stdin path.
func (m *Machine) SendInput(data []byte) {
	m.input = append(m.input, data...)
}

// Tick executes up to cycles instructions and returns the state reached.
// It returns early on halt or fault; a Running result means the cycle
// budget ran out first.
func (m *Machine) Tick(cycles int) Status {
	for i := 0; i < cycles && m.status == StatusRunning; i++ {
		m.Step()
	}
	return m.status
}

// Run ticks the machine until it reaches a terminal state or ctx is
// cancelled. Cancellation leaves the machine Running and resumable.
func (m *Machine) Run(ctx context.Context) (Status, error) {
	const chunk = 4096
	for m.status == StatusRunning {
		if err := ctx.Err(); err != nil {
			return m.status, err
		}
		m.Tick(chunk)
	}
	return m.status, nil
}

// ---------------------------------------------------------------------------
// Step loop
// ---------------------------------------------------------------------------

// Step executes exactly one instruction. Gas is charged before any of
// the instruction's effects are applied, so a fault on the budget
// boundary leaves memory untouched.
func (m *Machine) Step() {
	if m.status != StatusRunning {
		return
	}
	if m.pc < 0 || m.pc >= len(m.code) {
		m.setFault(FaultInvalidOpcode, 0, "program counter outside code")
		return
	}

	in := m.code[m.pc]
	if !in.Op.Valid() {
		m.setFault(FaultInvalidOpcode, 0, fmt.Sprintf("opcode 0x%02X", byte(in.Op)))
		return
	}
	if cost := in.Op.Cost(); m.gas < cost {
		m.setFault(FaultResourceExhausted, 0, fmt.Sprintf("needs %d gas, %d left", cost, m.gas))
		return
	} else {
		m.gas -= cost
	}

	switch in.Op {
	case bytecode.OpNop:
		m.pc++

	case bytecode.OpHalt:
		code, ok := m.pop()
		if !ok {
			return
		}
		m.status = StatusHalted
		m.haltCode = code

	case bytecode.OpPush:
		if !m.push(in.Operand) {
			return
		}
		m.pc++

	case bytecode.OpPop:
		if _, ok := m.pop(); !ok {
			return
		}
		m.pc++

	case bytecode.OpDup:
		v, ok := m.peek()
		if !ok {
			return
		}
		if !m.push(v) {
			return
		}
		m.pc++

	case bytecode.OpSwap:
		b, ok := m.pop()
		if !ok {
			return
		}
		a, ok := m.pop()
		if !ok {
			return
		}
		if !m.push(b) || !m.push(a) {
			return
		}
		m.pc++

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		m.stepBinary(in.Op)

	case bytecode.OpNeg:
		v, ok := m.pop()
		if !ok {
			return
		}
		if !m.push(-v) {
			return
		}
		m.pc++

	case bytecode.OpNot:
		v, ok := m.pop()
		if !ok {
			return
		}
		if !m.push(boolWord(v == 0)) {
			return
		}
		m.pc++

	case bytecode.OpLoad:
		addr, ok := m.pop()
		if !ok {
			return
		}
		v, ok := m.loadWord(addr)
		if !ok {
			return
		}
		if !m.push(v) {
			return
		}
		m.pc++

	case bytecode.OpStore:
		v, ok := m.pop()
		if !ok {
			return
		}
		addr, ok := m.pop()
		if !ok {
			return
		}
		if !m.storeWord(addr, v) {
			return
		}
		m.pc++

	case bytecode.OpLoadByte:
		addr, ok := m.pop()
		if !ok {
			return
		}
		b, ok := m.loadByte(addr)
		if !ok {
			return
		}
		if !m.push(int64(b)) {
			return
		}
		m.pc++

	case bytecode.OpStoreByte:
		v, ok := m.pop()
		if !ok {
			return
		}
		addr, ok := m.pop()
		if !ok {
			return
		}
		if !m.storeByte(addr, byte(v)) {
			return
		}
		m.pc++

	case bytecode.OpLoadFrame:
		v, ok := m.loadWord(m.bp + bytecode.WordSize*in.Operand)
		if !ok {
			return
		}
		if !m.push(v) {
			return
		}
		m.pc++

	case bytecode.OpStoreFrame:
		v, ok := m.pop()
		if !ok {
			return
		}
		if !m.storeWord(m.bp+bytecode.WordSize*in.Operand, v) {
			return
		}
		m.pc++

	case bytecode.OpFrameAddr:
		if !m.push(m.bp + bytecode.WordSize*in.Operand) {
			return
		}
		m.pc++

	case bytecode.OpJmp:
		m.pc = int(in.Operand)

	case bytecode.OpJz:
		cond, ok := m.pop()
		if !ok {
			return
		}
		if cond == 0 {
			m.pc = int(in.Operand)
		} else {
			m.pc++
		}

	case bytecode.OpJnz:
		cond, ok := m.pop()
		if !ok {
			return
		}
		if cond != 0 {
			m.pc = int(in.Operand)
		} else {
			m.pc++
		}

	case bytecode.OpCall:
		if !m.push(int64(m.pc + 1)) {
			return
		}
		if !m.push(m.bp) {
			return
		}
		m.bp = m.sp
		m.pc = int(in.Operand)

	case bytecode.OpRet:
		m.stepRet(in.Operand)

	case bytecode.OpEnter:
		// Reserve and zero the local slots.
		words := in.Operand
		newSP := m.sp - bytecode.WordSize*words
		if newSP < m.brk || newSP > m.sp {
			m.setFault(FaultStackOverflow, newSP, fmt.Sprintf("frame of %d words", words))
			return
		}
		for a := newSP; a < m.sp; a++ {
			m.mem[a] = 0
		}
		m.sp = newSP
		m.pc++

	case bytecode.OpSyscall:
		m.stepSyscall(in.Operand)

	case bytecode.OpExec:
		pathAddr, ok := m.pop()
		if !ok {
			return
		}
		m.execArtifact(pathAddr)

	default:
		m.setFault(FaultInvalidOpcode, 0, fmt.Sprintf("unimplemented opcode %s", in.Op))
	}
}

func (m *Machine) stepBinary(op bytecode.Opcode) {
	b, ok := m.pop()
	if !ok {
		return
	}
	a, ok := m.pop()
	if !ok {
		return
	}

	var r int64
	switch op {
	case bytecode.OpAdd:
		r = a + b
	case bytecode.OpSub:
		r = a - b
	case bytecode.OpMul:
		r = a * b
	case bytecode.OpDiv:
		if b == 0 {
			m.setFault(FaultInvalidOpcode, 0, "division by zero")
			return
		}
		r = a / b
	case bytecode.OpMod:
		if b == 0 {
			m.setFault(FaultInvalidOpcode, 0, "division by zero")
			return
		}
		r = a % b
	case bytecode.OpEq:
		r = boolWord(a == b)
	case bytecode.OpNe:
		r = boolWord(a != b)
	case bytecode.OpLt:
		r = boolWord(a < b)
	case bytecode.OpLe:
		r = boolWord(a <= b)
	case bytecode.OpGt:
		r = boolWord(a > b)
	case bytecode.OpGe:
		r = boolWord(a >= b)
	}
	if !m.push(r) {
		return
	}
	m.pc++
}

// stepRet unwinds one call frame, discarding nargs argument words and
// leaving the callee's result on the caller's stack.
func (m *Machine) stepRet(nargs int64) {
	result, ok := m.pop()
	if !ok {
		return
	}
	m.sp = m.bp
	savedBP, ok := m.pop()
	if !ok {
		return
	}
	retAddr, ok := m.pop()
	if !ok {
		return
	}
	if retAddr < 0 || retAddr > int64(len(m.code)) {
		m.setFault(FaultInvalidOpcode, retAddr, "corrupted return address")
		return
	}
	if savedBP < m.brk || savedBP > m.cfg.MemorySize {
		m.setFault(FaultSegmentation, savedBP, "corrupted saved frame pointer")
		return
	}
	m.bp = savedBP
	m.sp += bytecode.WordSize * nargs
	if m.sp > m.cfg.MemorySize {
		m.setFault(FaultSegmentation, m.sp, "return discarded more arguments than the stack holds")
		return
	}
	if !m.push(result) {
		return
	}
	m.pc = int(retAddr)
}

// execArtifact is the EXEC context switch: read an artifact from the
// VFS, discard the current memory arena, and resume at the new entry
// point. Gas, output, input and the VFS arena all survive the switch.
func (m *Machine) execArtifact(pathAddr int64) {
	path, ok := m.readCString(pathAddr)
	if !ok {
		return
	}
	content, found := m.fs.Read(path)
	if !found {
		m.setFault(FaultSyscall, pathAddr, fmt.Sprintf("exec: no artifact at %q", path))
		return
	}
	prog, err := bytecode.Decode(content)
	if err != nil {
		m.setFault(FaultInvalidOpcode, pathAddr, fmt.Sprintf("exec %q: %v", path, err))
		return
	}
	if bytecode.DataBase+int64(len(prog.Data)) > m.cfg.MemorySize {
		m.setFault(FaultSyscall, pathAddr, fmt.Sprintf("exec %q: data segment does not fit", path))
		return
	}
	m.reload(prog)
}

// ---------------------------------------------------------------------------
// Memory primitives
// ---------------------------------------------------------------------------
//
// Words are little-endian in memory so that byte-granular access to the
// low byte of a word sees the value truncated, matching char semantics.

// checkRead validates a read of size bytes at addr. Addresses below
// DataBase are never mapped.
func (m *Machine) checkRead(addr, size int64) bool {
	if addr < bytecode.DataBase || addr+size > m.cfg.MemorySize || addr+size < addr {
		m.setFault(FaultSegmentation, addr, fmt.Sprintf("read of %d bytes", size))
		return false
	}
	return true
}

// checkWrite additionally rejects the read-only literal region.
func (m *Machine) checkWrite(addr, size int64) bool {
	if addr < bytecode.DataBase || addr+size > m.cfg.MemorySize || addr+size < addr {
		m.setFault(FaultSegmentation, addr, fmt.Sprintf("write of %d bytes", size))
		return false
	}
	if addr < m.rodataEnd {
		m.setFault(FaultSegmentation, addr, "write into read-only data")
		return false
	}
	return true
}

func (m *Machine) loadWord(addr int64) (int64, bool) {
	if !m.checkRead(addr, bytecode.WordSize) {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(m.mem[addr:])), true
}

func (m *Machine) storeWord(addr, v int64) bool {
	if !m.checkWrite(addr, bytecode.WordSize) {
		return false
	}
	binary.LittleEndian.PutUint64(m.mem[addr:], uint64(v))
	return true
}

func (m *Machine) loadByte(addr int64) (byte, bool) {
	if !m.checkRead(addr, 1) {
		return 0, false
	}
	return m.mem[addr], true
}

func (m *Machine) storeByte(addr int64, b byte) bool {
	if !m.checkWrite(addr, 1) {
		return false
	}
	m.mem[addr] = b
	return true
}

// push grows the stack downward; crossing the heap break is a stack
// overflow, the one fault kind with its own name.
func (m *Machine) push(v int64) bool {
	newSP := m.sp - bytecode.WordSize
	if newSP < m.brk {
		m.setFault(FaultStackOverflow, newSP, "")
		return false
	}
	m.sp = newSP
	binary.LittleEndian.PutUint64(m.mem[m.sp:], uint64(v))
	return true
}

func (m *Machine) pop() (int64, bool) {
	if m.sp+bytecode.WordSize > m.cfg.MemorySize {
		m.setFault(FaultSegmentation, m.sp, "stack underflow")
		return 0, false
	}
	if m.sp < bytecode.DataBase {
		m.setFault(FaultSegmentation, m.sp, "corrupted stack pointer")
		return 0, false
	}
	v := int64(binary.LittleEndian.Uint64(m.mem[m.sp:]))
	m.sp += bytecode.WordSize
	return v, true
}

func (m *Machine) peek() (int64, bool) {
	if m.sp+bytecode.WordSize > m.cfg.MemorySize {
		m.setFault(FaultSegmentation, m.sp, "stack underflow")
		return 0, false
	}
	if m.sp < bytecode.DataBase {
		m.setFault(FaultSegmentation, m.sp, "corrupted stack pointer")
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(m.mem[m.sp:])), true
}

// readCString reads a NUL-terminated string from guest memory, bounds
// checked byte by byte and capped at maxPathLen.
func (m *Machine) readCString(addr int64) (string, bool) {
	var buf []byte
	for i := int64(0); i < maxPathLen; i++ {
		b, ok := m.loadByte(addr + i)
		if !ok {
			return "", false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
	m.setFault(FaultSegmentation, addr, "unterminated string")
	return "", false
}

func (m *Machine) setFault(kind FaultKind, addr int64, detail string) {
	var op bytecode.Opcode
	if m.pc >= 0 && m.pc < len(m.code) {
		op = m.code[m.pc].Op
	}
	m.status = StatusFaulted
	m.fault = &Fault{Kind: kind, PC: m.pc, Op: op, Addr: addr, Detail: detail}
}

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
