package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Syscall dispatch
// ---------------------------------------------------------------------------
//
// The table is closed and fixed: id -> {name, arity, handler}. Arguments
// are pushed left-to-right by the caller, so the last argument is on top
// and handlers receive them popped back into declaration order. Every
// handler pushes exactly one result word unless it faults.

// StdinPath is the reserved VFS path that drains the host input queue
// when read.
const StdinPath = "/dev/stdin"

// syscallHandler executes one syscall. args are in declaration order.
// A false result means the handler set a fault.
type syscallHandler func(m *Machine, args []int64) (int64, bool)

type syscallEntry struct {
	name    string
	arity   int
	handler syscallHandler
}

// Syscall ids. Id 3 is reserved and faults like any unknown id.
const (
	SysSbrk        int64 = 0
	SysVFSRead     int64 = 1
	SysVFSWrite    int64 = 2
	SysStdoutWrite int64 = 4
	SysExec        int64 = 5
)

var syscallTable = map[int64]syscallEntry{
	SysSbrk:        {name: "sbrk", arity: 1, handler: sysSbrk},
	SysVFSRead:     {name: "vfs_read", arity: 3, handler: sysVFSRead},
	SysVFSWrite:    {name: "vfs_write", arity: 3, handler: sysVFSWrite},
	SysStdoutWrite: {name: "stdout_write", arity: 1, handler: sysStdoutWrite},
	SysExec:        {name: "exec", arity: 1, handler: nil}, // context switch, handled inline
}

// stepSyscall pops the entry's argument count and dispatches.
func (m *Machine) stepSyscall(id int64) {
	entry, known := syscallTable[id]
	if !known {
		m.setFault(FaultSyscall, 0, fmt.Sprintf("unknown syscall id %d", id))
		return
	}

	args := make([]int64, entry.arity)
	for i := entry.arity - 1; i >= 0; i-- {
		v, ok := m.pop()
		if !ok {
			return
		}
		args[i] = v
	}

	if id == SysExec {
		m.execArtifact(args[0])
		return
	}

	result, ok := entry.handler(m, args)
	if !ok {
		return
	}
	if !m.push(result) {
		return
	}
	m.pc++
}

// sysSbrk extends the heap by size bytes and returns the old break, the
// base of the newly available region. The heap never shrinks.
func sysSbrk(m *Machine, args []int64) (int64, bool) {
	size := args[0]
	if size < 0 {
		m.setFault(FaultSyscall, 0, fmt.Sprintf("sbrk(%d): heap never shrinks", size))
		return 0, false
	}
	old := m.brk
	newBrk := m.brk + size
	if newBrk < m.brk || newBrk > m.sp {
		m.setFault(FaultSyscall, newBrk, fmt.Sprintf("sbrk(%d): heap exhausted", size))
		return 0, false
	}
	m.brk = newBrk
	return old, true
}

// sysVFSRead copies up to max bytes from a VFS path into guest memory.
// Returns the byte count copied, or -1 when the path does not exist.
func sysVFSRead(m *Machine, args []int64) (int64, bool) {
	pathAddr, bufAddr, max := args[0], args[1], args[2]
	if max < 0 {
		m.setFault(FaultSyscall, 0, fmt.Sprintf("vfs_read: negative length %d", max))
		return 0, false
	}

	path, ok := m.readCString(pathAddr)
	if !ok {
		return 0, false
	}

	var content []byte
	if path == StdinPath {
		content = m.input
	} else {
		var found bool
		content, found = m.fs.Read(path)
		if !found {
			return -1, true
		}
	}

	n := int64(len(content))
	if n > max {
		n = max
	}
	if n > 0 {
		if !m.checkWrite(bufAddr, n) {
			return 0, false
		}
		copy(m.mem[bufAddr:bufAddr+n], content[:n])
	}
	if path == StdinPath {
		m.input = m.input[n:]
	}
	return n, true
}

// sysVFSWrite copies length bytes from guest memory into a VFS path,
// replacing any previous content atomically. Returns the byte count.
func sysVFSWrite(m *Machine, args []int64) (int64, bool) {
	pathAddr, bufAddr, length := args[0], args[1], args[2]
	if length < 0 {
		m.setFault(FaultSyscall, 0, fmt.Sprintf("vfs_write: negative length %d", length))
		return 0, false
	}

	path, ok := m.readCString(pathAddr)
	if !ok {
		return 0, false
	}
	if path == "" || path == StdinPath {
		m.setFault(FaultSyscall, pathAddr, fmt.Sprintf("vfs_write: invalid path %q", path))
		return 0, false
	}

	content := make([]byte, length)
	if length > 0 {
		if !m.checkRead(bufAddr, length) {
			return 0, false
		}
		copy(content, m.mem[bufAddr:bufAddr+length])
	}
	m.fs.Write(path, content)
	return length, true
}

// sysStdoutWrite appends one byte to the host-visible output buffer.
func sysStdoutWrite(m *Machine, args []int64) (int64, bool) {
	m.output.WriteByte(byte(args[0]))
	return 1, true
}
