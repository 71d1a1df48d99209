package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/primvm/prim/compiler"
)

// seedArtifact compiles src and writes the encoded artifact into the
// machine's VFS at path.
func seedArtifact(t *testing.T, m *Machine, path, src string) {
	t.Helper()
	prog, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("compile artifact %s: %v", path, err)
	}
	encoded, err := prog.Encode()
	if err != nil {
		t.Fatalf("encode artifact %s: %v", path, err)
	}
	m.VFS().Write(path, encoded)
}

const childSource = `
int main() {
    putchar(99);
    return 7;
}
`

func TestExecReplacesProgram(t *testing.T) {
	m := compileLoad(t, `
int main() {
    exec("/bin/child");
    return 99;
}
`, Config{})
	seedArtifact(t, m, "/bin/child", childSource)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The caller never resumes; the machine's terminal state is the
	// child's.
	wantHalt(t, m, 7)
	if got := string(m.ReadOutput()); got != "c" {
		t.Errorf("output = %q, want %q", got, "c")
	}
}

func TestExecMatchesDirectRun(t *testing.T) {
	direct := runSource(t, childSource, Config{})
	directOut := direct.ReadOutput()

	indirect := compileLoad(t, `
int main() {
    exec("/bin/child");
    return 99;
}
`, Config{})
	seedArtifact(t, indirect, "/bin/child", childSource)
	if _, err := indirect.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if indirect.Status() != direct.Status() || indirect.HaltCode() != direct.HaltCode() {
		t.Errorf("indirect terminal state = (%s, %d), direct = (%s, %d)",
			indirect.Status(), indirect.HaltCode(), direct.Status(), direct.HaltCode())
	}
	if got := indirect.ReadOutput(); !bytes.Equal(got, directOut) {
		t.Errorf("indirect output = %q, direct = %q", got, directOut)
	}
}

func TestExecGasPersists(t *testing.T) {
	direct := runSource(t, childSource, Config{})

	indirect := compileLoad(t, `
int main() {
    exec("/bin/child");
    return 99;
}
`, Config{})
	seedArtifact(t, indirect, "/bin/child", childSource)
	if _, err := indirect.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The context switch does not refill the budget, so the caller's own
	// instructions leave the indirect run with strictly less gas.
	if indirect.Gas() >= direct.Gas() {
		t.Errorf("gas after exec = %d, want less than direct run's %d",
			indirect.Gas(), direct.Gas())
	}
}

func TestExecPreservesVFSAndOutput(t *testing.T) {
	m := compileLoad(t, `
int main() {
    putchar(112);
    vfs_write("/handoff", "41", 2);
    exec("/bin/child");
    return 99;
}
`, Config{})
	seedArtifact(t, m, "/bin/child", `
int main() {
    char buf[4];
    if (vfs_read("/handoff", buf, 4) != 2) {
        return 1;
    }
    putchar(buf[0]);
    putchar(buf[1]);
    return 0;
}
`)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantHalt(t, m, 0)
	// Output written before the switch survives it.
	if got := string(m.ReadOutput()); got != "p41" {
		t.Errorf("output = %q, want %q", got, "p41")
	}
}

func TestExecChain(t *testing.T) {
	m := compileLoad(t, `
int main() {
    exec("/bin/middle");
    return 99;
}
`, Config{})
	seedArtifact(t, m, "/bin/middle", `
int main() {
    exec("/bin/last");
    return 98;
}
`)
	seedArtifact(t, m, "/bin/last", `
int main() {
    return 5;
}
`)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantHalt(t, m, 5)
}

func TestExecMissingArtifactFaults(t *testing.T) {
	m := runSource(t, `
int main() {
    exec("/bin/ghost");
    return 0;
}
`, Config{})
	wantFault(t, m, FaultSyscall)
}

func TestExecMalformedArtifactFaults(t *testing.T) {
	m := compileLoad(t, `
int main() {
    exec("/bin/garbage");
    return 0;
}
`, Config{})
	m.VFS().Write("/bin/garbage", []byte("not a bytecode artifact"))

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantFault(t, m, FaultInvalidOpcode)
}

func TestExecGasExhaustionCrossesSwitch(t *testing.T) {
	// A budget large enough to reach the switch but not to finish the
	// child exhausts inside the child.
	m := compileLoad(t, `
int main() {
    exec("/bin/spin");
    return 0;
}
`, Config{GasBudget: 500})
	seedArtifact(t, m, "/bin/spin", `
int main() {
    while (1) {}
    return 0;
}
`)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantFault(t, m, FaultResourceExhausted)
}
