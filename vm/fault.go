package vm

import (
	"fmt"

	"github.com/primvm/prim/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Terminal machine states
// ---------------------------------------------------------------------------
//
// A fault is a first-class terminal state value, never a panic and never
// an exception path through the interpreter loop. Once a machine faults
// its memory stays inspectable but no further instruction executes.

// Status is the machine lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusHalted
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusHalted:
		return "halted"
	case StatusFaulted:
		return "faulted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// FaultKind classifies terminal machine faults.
type FaultKind int

const (
	// FaultSegmentation is an out-of-bounds or read-only memory access.
	FaultSegmentation FaultKind = iota

	// FaultResourceExhausted means the gas budget reached zero.
	FaultResourceExhausted

	// FaultStackOverflow means a push crossed the heap break.
	FaultStackOverflow

	// FaultInvalidOpcode is corrupted or malformed bytecode, including
	// instructions executed with operand values they cannot accept.
	FaultInvalidOpcode

	// FaultSyscall is an unknown syscall id or malformed arguments.
	FaultSyscall
)

var faultKindNames = map[FaultKind]string{
	FaultSegmentation:      "segmentation fault",
	FaultResourceExhausted: "resource exhausted",
	FaultStackOverflow:     "stack overflow",
	FaultInvalidOpcode:     "invalid opcode",
	FaultSyscall:           "syscall error",
}

func (k FaultKind) String() string {
	if name, ok := faultKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Fault carries the inspectable context of a faulted machine: where it
// was, what it was executing, and the offending address when one exists.
type Fault struct {
	Kind   FaultKind
	PC     int
	Op     bytecode.Opcode
	Addr   int64
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s at pc=%d (%s): %s", f.Kind, f.PC, f.Op, f.Detail)
	}
	return fmt.Sprintf("%s at pc=%d (%s)", f.Kind, f.PC, f.Op)
}
