package vm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/primvm/prim/compiler"
	"github.com/primvm/prim/pkg/bytecode"
)

// exprcSource loads the in-VM expression compiler shipped under
// examples/.
func exprcSource(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "examples", "exprc.pc"))
	if err != nil {
		t.Fatalf("exprc.pc: %v", err)
	}
	return string(src)
}

// compileInGuest runs the in-VM expression compiler over input and
// returns the artifact bytes it wrote to the VFS.
func compileInGuest(t *testing.T, input string) []byte {
	t.Helper()
	m := compileLoad(t, exprcSource(t), Config{})
	m.VFS().Write("/src/expr", []byte(input))
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("compiling %q: Run() error: %v", input, err)
	}
	wantHalt(t, m, 0)
	artifact, ok := m.VFS().Read("/out/expr.prx")
	if !ok {
		t.Fatalf("compiling %q left no artifact at /out/expr.prx", input)
	}
	return artifact
}

func TestGuestCompilerProducesRunnableArtifacts(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"7", 7},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"100/5-7", 13},
		{" 8 * 8 ", 64},
	}

	for _, tc := range tests {
		artifact := compileInGuest(t, tc.input)
		prog, err := bytecode.Decode(artifact)
		if err != nil {
			t.Errorf("%q: Decode() error: %v", tc.input, err)
			continue
		}

		child := New(Config{})
		if err := child.Load(prog); err != nil {
			t.Errorf("%q: Load() error: %v", tc.input, err)
			continue
		}
		if _, err := child.Run(context.Background()); err != nil {
			t.Fatalf("%q: Run() error: %v", tc.input, err)
		}
		if child.Status() != StatusHalted || child.HaltCode() != tc.want {
			t.Errorf("%q: terminal state = (%s, %d), want (halted, %d)",
				tc.input, child.Status(), child.HaltCode(), tc.want)
		}
	}
}

func TestGuestCompilerArtifactExecs(t *testing.T) {
	artifact := compileInGuest(t, "(2+3)*4")

	m := compileLoad(t, `
int main() {
    exec("/out/expr.prx");
    return 90;
}
`, Config{})
	m.VFS().Write("/out/expr.prx", artifact)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantHalt(t, m, 20)
}

func TestGuestCompilerFixedPoint(t *testing.T) {
	// Compiling the in-VM compiler's own source twice on the host must
	// yield byte-identical artifacts, and running it inside fresh
	// machines over the same input must do the same.
	src := exprcSource(t)

	first, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	firstBytes, err := first.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	secondBytes, err := second.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("host artifacts differ across identical compiles (%d vs %d bytes)",
			len(firstBytes), len(secondBytes))
	}

	a := compileInGuest(t, "1+2*3-4/2")
	b := compileInGuest(t, "1+2*3-4/2")
	if !bytes.Equal(a, b) {
		t.Errorf("guest artifacts differ across identical runs (%d vs %d bytes)",
			len(a), len(b))
	}
}

func TestGuestCompilerRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"2+*3", "(1+2", "", "abc"} {
		m := compileLoad(t, exprcSource(t), Config{})
		m.VFS().Write("/src/expr", []byte(input))
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatalf("%q: Run() error: %v", input, err)
		}
		wantHalt(t, m, 2)
		if _, ok := m.VFS().Read("/out/expr.prx"); ok {
			t.Errorf("%q: artifact written for malformed input", input)
		}
	}

	// Missing input file entirely.
	m := compileLoad(t, exprcSource(t), Config{})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wantHalt(t, m, 1)
}
