package compiler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/primvm/prim/pkg/bytecode"
)

func TestCompileMinimalProgram(t *testing.T) {
	prog, err := Compile(`int main() { return 0; }`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if err := prog.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	// The entry stub calls main and halts with its result.
	if prog.Entry != len(prog.Code)-2 {
		t.Errorf("Entry = %d, want %d", prog.Entry, len(prog.Code)-2)
	}
	if prog.Code[prog.Entry].Op != bytecode.OpCall {
		t.Errorf("entry instruction = %s, want CALL", prog.Code[prog.Entry].Op)
	}
	if prog.Code[prog.Entry+1].Op != bytecode.OpHalt {
		t.Errorf("instruction after entry = %s, want HALT", prog.Code[prog.Entry+1].Op)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	src := `
int table[4];
char* greeting = "hello";

int twice(int n) { return n * 2; }

int main() {
    table[0] = twice(21);
    return table[0];
}
`
	first, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	second, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	a, err := first.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	b, err := second.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two compilations of the same source differ")
	}
}

func TestStringLiteralsDeduplicated(t *testing.T) {
	prog, err := Compile(`
int main() {
    vfs_write("/a", "same", 4);
    vfs_write("/b", "same", 4);
    return 0;
}
`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	// "/a\0" + "/b\0" + "same\0" appended once each, first encounter order.
	want := len("/a") + 1 + len("same") + 1 + len("/b") + 1
	if prog.RODataLen != want {
		t.Errorf("RODataLen = %d, want %d", prog.RODataLen, want)
	}
	if count := bytes.Count(prog.Data[:prog.RODataLen], []byte("same")); count != 1 {
		t.Errorf("literal %q appears %d times, want 1", "same", count)
	}
}

func TestStringLiteralsAreNULTerminated(t *testing.T) {
	prog, err := Compile(`
char* s = "abc";
int main() { return 0; }
`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !bytes.HasPrefix(prog.Data, []byte("abc\x00")) {
		t.Errorf("data segment starts with %q, want %q", prog.Data[:4], "abc\x00")
	}
}

func TestGlobalInitializers(t *testing.T) {
	prog, err := Compile(`
int answer = 6 * 7;
char letter = 'Q';
char* s = "xy";
int main() { return answer; }
`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	// Globals are laid out after the word-aligned literal region, in
	// declaration order, one aligned slot each.
	base := int(bytecode.AlignWord(int64(prog.RODataLen)))
	answer := int64(binary.LittleEndian.Uint64(prog.Data[base:]))
	if answer != 42 {
		t.Errorf("answer initializer = %d, want 42", answer)
	}
	if prog.Data[base+8] != 'Q' {
		t.Errorf("letter initializer = %q, want 'Q'", prog.Data[base+8])
	}
	sVal := int64(binary.LittleEndian.Uint64(prog.Data[base+16:]))
	if sVal != bytecode.DataBase {
		t.Errorf("s initializer = %d, want literal base %d", sVal, bytecode.DataBase)
	}
}

func TestForwardDeclarationResolved(t *testing.T) {
	prog, err := Compile(`
int later(int n);

int main() { return later(3); }

int later(int n) { return n + 1; }
`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	for i, in := range prog.Code {
		if in.Op == bytecode.OpCall && (in.Operand < 0 || in.Operand >= int64(len(prog.Code))) {
			t.Errorf("instruction %d: unpatched call target %d", i, in.Operand)
		}
	}
}

func TestStructLayout(t *testing.T) {
	prog, err := Compile(`
struct Node {
    int value;
    char tag;
    struct Node* next;
};

int main() {
    return sizeof(struct Node);
}
`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	// Sequential unpadded layout: 8 + 1 + 8.
	found := false
	for _, in := range prog.Code {
		if in.Op == bytecode.OpPush && in.Operand == 17 {
			found = true
		}
	}
	if !found {
		t.Error("sizeof(struct Node) did not fold to 17")
	}
}

func semanticKind(t *testing.T, src string) SemanticErrorKind {
	t.Helper()
	_, err := Compile(src)
	if err == nil {
		t.Fatalf("Compile succeeded, want semantic error\nsource: %s", src)
	}
	var sem *SemanticError
	if !errors.As(err, &sem) {
		t.Fatalf("error is %T (%v), want *SemanticError", err, err)
	}
	return sem.Kind
}

func TestSemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want SemanticErrorKind
	}{
		{
			"unresolved identifier",
			`int main() { return nope; }`,
			ErrUnresolved,
		},
		{
			"unresolved function",
			`int main() { return nope(); }`,
			ErrUnresolved,
		},
		{
			"forward declaration never defined",
			`int ghost(int x); int main() { return ghost(1); }`,
			ErrUnresolved,
		},
		{
			"redeclared local",
			`int main() { int a; int a; return 0; }`,
			ErrRedeclaration,
		},
		{
			"redeclared global",
			`int g; int g; int main() { return 0; }`,
			ErrRedeclaration,
		},
		{
			"redefined function",
			`int f() { return 1; } int f() { return 2; } int main() { return 0; }`,
			ErrRedeclaration,
		},
		{
			"shadowing a builtin",
			`int putchar(int c) { return c; } int main() { return 0; }`,
			ErrRedeclaration,
		},
		{
			"arity mismatch",
			`int f(int a, int b) { return a; } int main() { return f(1); }`,
			ErrArity,
		},
		{
			"builtin arity mismatch",
			`int main() { return putchar(); }`,
			ErrArity,
		},
		{
			"calling a variable",
			`int main() { int x; return x(); }`,
			ErrNotCallable,
		},
		{
			"struct parameter by value",
			`struct P { int x; }; int f(struct P p) { return 0; } int main() { return 0; }`,
			ErrTypeMismatch,
		},
		{
			"struct assignment",
			`struct P { int x; }; int main() { struct P a; struct P b; a = b; return 0; }`,
			ErrTypeMismatch,
		},
		{
			"void local",
			`int main() { void v; return 0; }`,
			ErrTypeMismatch,
		},
		{
			"dereferencing an int",
			`int main() { int x; return *x; }`,
			ErrTypeMismatch,
		},
		{
			"non-constant global initializer",
			`int f() { return 1; } int g = f(); int main() { return 0; }`,
			ErrTypeMismatch,
		},
		{
			"unknown struct",
			`int main() { struct Ghost* p; return sizeof(struct Ghost); }`,
			ErrUnresolved,
		},
		{
			"main with parameters",
			`int main(int argc) { return 0; }`,
			ErrArity,
		},
	}

	for _, tc := range tests {
		if got := semanticKind(t, tc.src); got != tc.want {
			t.Errorf("%s: kind = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMissingMain(t *testing.T) {
	if got := semanticKind(t, `int helper() { return 1; }`); got != ErrNoEntryPoint {
		t.Errorf("kind = %v, want %v", got, ErrNoEntryPoint)
	}
}

func TestCompileWithIncludes(t *testing.T) {
	files := map[string]string{
		"lib.pc": `
int twice(int n) { return n * 2; }
`,
	}
	resolve := func(path string) (string, error) {
		text, ok := files[path]
		if !ok {
			return "", fmt.Errorf("no such file %q", path)
		}
		return text, nil
	}

	prog, err := CompileWithIncludes(`#include "lib.pc"
int main() { return twice(21); }
`, resolve)
	if err != nil {
		t.Fatalf("CompileWithIncludes() error: %v", err)
	}
	if prog == nil || len(prog.Code) == 0 {
		t.Fatal("no code generated")
	}
}

func TestIncludeCycleDetected(t *testing.T) {
	files := map[string]string{
		"a.pc": "#include \"b.pc\"\n",
		"b.pc": "#include \"a.pc\"\n",
	}
	resolve := func(path string) (string, error) {
		return files[path], nil
	}

	_, err := CompileWithIncludes("#include \"a.pc\"\nint main() { return 0; }\n", resolve)
	var lex *LexError
	if !errors.As(err, &lex) {
		t.Fatalf("error is %T (%v), want *LexError for include cycle", err, err)
	}
}

func TestIncludeOnce(t *testing.T) {
	files := map[string]string{
		"def.pc": "int shared() { return 7; }\n",
		"a.pc":   "#include \"def.pc\"\n",
		"b.pc":   "#include \"def.pc\"\n",
	}
	resolve := func(path string) (string, error) {
		return files[path], nil
	}

	// Both a and b pull in def.pc; without include-once this would be a
	// redeclaration of shared.
	_, err := CompileWithIncludes("#include \"a.pc\"\n#include \"b.pc\"\nint main() { return shared(); }\n", resolve)
	if err != nil {
		t.Fatalf("CompileWithIncludes() error: %v", err)
	}
}
