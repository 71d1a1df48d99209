package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; PRIM bytecode v%d\n", p.Version))
	sb.WriteString(fmt.Sprintf("; Entry: %d\n", p.Entry))
	sb.WriteString(fmt.Sprintf("; Data segment: %d bytes (%d read-only)\n", len(p.Data), p.RODataLen))
	sb.WriteString("\n")

	for i, in := range p.Code {
		marker := " "
		if i == p.Entry {
			marker = ">"
		}
		if in.Op.HasOperand() {
			sb.WriteString(fmt.Sprintf("%s %4d  %-12s %d%s\n", marker, i, in.Op, in.Operand, operandComment(p, in)))
		} else {
			sb.WriteString(fmt.Sprintf("%s %4d  %s\n", marker, i, in.Op))
		}
	}

	if p.RODataLen > 0 {
		sb.WriteString("\n; Read-only data:\n")
		sb.WriteString(hexDump(p.Data[:p.RODataLen]))
	}

	return sb.String()
}

// operandComment annotates operands that point into the data segment
// with the literal they reference, when it looks like a string.
func operandComment(p *Program, in Instruction) string {
	if in.Op != OpPush {
		return ""
	}
	// Loader places the data segment at a fixed base; operands below it
	// are plain immediates.
	off := in.Operand - DataBase
	if off < 0 || off >= int64(p.RODataLen) {
		return ""
	}
	end := off
	for end < int64(p.RODataLen) && p.Data[end] != 0 {
		end++
	}
	if end == off || end == int64(p.RODataLen) {
		return ""
	}
	s := string(p.Data[off:end])
	if !printable(s) {
		return ""
	}
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("  ; %q", s)
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

// hexDump formats bytes 16 per line with offsets, disassembly-comment style.
func hexDump(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(fmt.Sprintf(";   %04x ", i))
		for j := i; j < end; j++ {
			sb.WriteString(fmt.Sprintf(" %02x", data[j]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
