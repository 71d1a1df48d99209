package vm

import (
	"bytes"
	"testing"

	"github.com/primvm/prim/pkg/bytecode"
)

func TestSbrkReturnsOldBreak(t *testing.T) {
	m := runSource(t, `
int main() {
    char* a;
    char* b;
    a = sbrk(16);
    b = sbrk(0);
    return b - a;
}
`, Config{})
	wantHalt(t, m, 16)
}

func TestSbrkRegionIsZeroedAndWritable(t *testing.T) {
	m := runSource(t, `
int main() {
    int* p;
    p = (int*)sbrk(sizeof(int) * 2);
    if (p[0] || p[1]) {
        return 1;
    }
    p[1] = 9;
    return p[1];
}
`, Config{})
	wantHalt(t, m, 9)
}

func TestSbrkNegativeFaults(t *testing.T) {
	m := runSource(t, `
int main() {
    sbrk(-8);
    return 0;
}
`, Config{})
	wantFault(t, m, FaultSyscall)
}

func TestSbrkExhaustionFaults(t *testing.T) {
	// The break cannot cross the stack pointer.
	m := runSource(t, `
int main() {
    sbrk(4 * 1024 * 1024);
    return 0;
}
`, Config{})
	wantFault(t, m, FaultSyscall)
}

func TestVFSWriteVisibleToHost(t *testing.T) {
	m := runSource(t, `
int main() {
    return vfs_write("/out.txt", "abc", 3);
}
`, Config{})
	wantHalt(t, m, 3)
	content, ok := m.VFS().Read("/out.txt")
	if !ok {
		t.Fatal("/out.txt not in VFS after vfs_write")
	}
	if !bytes.Equal(content, []byte("abc")) {
		t.Errorf("content = %q, want %q", content, "abc")
	}
}

func TestVFSWriteReplacesContent(t *testing.T) {
	m := runSource(t, `
int main() {
    vfs_write("/f", "long content", 12);
    vfs_write("/f", "xy", 2);
    return 0;
}
`, Config{})
	wantHalt(t, m, 0)
	content, _ := m.VFS().Read("/f")
	if !bytes.Equal(content, []byte("xy")) {
		t.Errorf("content = %q, want %q (write replaces, never appends)", content, "xy")
	}
}

func TestVFSReadSeededFile(t *testing.T) {
	m := compileLoad(t, `
int main() {
    char buf[16];
    int n;
    int i;
    n = vfs_read("/etc/motd", buf, 16);
    i = 0;
    while (i < n) {
        putchar(buf[i]);
        i = i + 1;
    }
    return n;
}
`, Config{})
	m.VFS().Write("/etc/motd", []byte("welcome"))
	for m.Tick(4096) == StatusRunning {
	}
	wantHalt(t, m, 7)
	if got := string(m.ReadOutput()); got != "welcome" {
		t.Errorf("output = %q, want %q", got, "welcome")
	}
}

func TestVFSReadMissingPath(t *testing.T) {
	m := runSource(t, `
int main() {
    char buf[8];
    return vfs_read("/no/such/file", buf, 8);
}
`, Config{})
	wantHalt(t, m, -1)
}

func TestVFSReadTruncatesToMax(t *testing.T) {
	m := compileLoad(t, `
int main() {
    char buf[4];
    return vfs_read("/big", buf, 4);
}
`, Config{})
	m.VFS().Write("/big", []byte("0123456789"))
	for m.Tick(4096) == StatusRunning {
	}
	wantHalt(t, m, 4)
}

func TestStdinQueueDrains(t *testing.T) {
	m := compileLoad(t, `
int main() {
    char buf[8];
    int first;
    int second;
    first = vfs_read("/dev/stdin", buf, 8);
    second = vfs_read("/dev/stdin", buf, 8);
    return first * 10 + second;
}
`, Config{})
	m.SendInput([]byte("abc"))
	for m.Tick(4096) == StatusRunning {
	}
	// First read drains the queue; the second sees it empty, not missing.
	wantHalt(t, m, 30)
}

func TestWriteToStdinFaults(t *testing.T) {
	m := runSource(t, `
int main() {
    return vfs_write("/dev/stdin", "x", 1);
}
`, Config{})
	wantFault(t, m, FaultSyscall)
}

func TestWriteToEmptyPathFaults(t *testing.T) {
	m := runSource(t, `
int main() {
    return vfs_write("", "x", 1);
}
`, Config{})
	wantFault(t, m, FaultSyscall)
}

func TestVFSWriteBadBufferFaults(t *testing.T) {
	m := runSource(t, `
int main() {
    return vfs_write("/f", (char*)8, 4);
}
`, Config{})
	wantFault(t, m, FaultSegmentation)
}

func TestVFSReadBadBufferFaults(t *testing.T) {
	m := compileLoad(t, `
int main() {
    return vfs_read("/f", (char*)8, 4);
}
`, Config{})
	m.VFS().Write("/f", []byte("data"))
	for m.Tick(4096) == StatusRunning {
	}
	wantFault(t, m, FaultSegmentation)
}

func TestUnknownSyscallFaults(t *testing.T) {
	for _, id := range []int64{3, 6, 99} {
		prog := &bytecode.Program{
			Version: bytecode.FormatVersion,
			Entry:   0,
			Code: []bytecode.Instruction{
				{Op: bytecode.OpSyscall, Operand: id},
				{Op: bytecode.OpHalt},
			},
		}
		m := New(Config{})
		if err := m.Load(prog); err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		m.Tick(8)
		if m.Status() != StatusFaulted || m.Fault().Kind != FaultSyscall {
			t.Errorf("syscall %d: status = %s (fault %v), want syscall fault", id, m.Status(), m.Fault())
		}
	}
}

func TestSyscallArgumentOrder(t *testing.T) {
	// Arguments are pushed left-to-right; the handler must see them in
	// declaration order. A swapped path/buffer pair would fault or write
	// the wrong file.
	m := runSource(t, `
int main() {
    vfs_write("/ordered", "ok", 2);
    return 0;
}
`, Config{})
	wantHalt(t, m, 0)
	if _, ok := m.VFS().Read("/ordered"); !ok {
		t.Error("/ordered not written; argument order is wrong")
	}
}
