package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/primvm/prim/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Code generator: AST -> bytecode.Program
// ---------------------------------------------------------------------------
//
// Generation runs in two passes over one compilation unit:
//
//   pass 1: resolve struct layouts, collect string literals, lay out the
//           data segment, and register every function signature (forward
//           declarations included)
//   pass 2: emit function bodies, then the entry stub, then patch call
//           sites against the final instruction indices
//
// The two passes are what make forward references work without link
// steps: by the time any body is emitted, every callee has a registered
// signature, and every call site is patched once all bodies exist.

// builtin describes a function the runtime provides rather than the unit.
type builtin struct {
	syscall int64 // syscall id, or -1 for the EXEC instruction
	arity   int
	ret     *Type
}

var builtinFuncs = map[string]builtin{
	"sbrk":      {syscall: 0, arity: 1, ret: PointerTo(Char)},
	"vfs_read":  {syscall: 1, arity: 3, ret: Int},
	"vfs_write": {syscall: 2, arity: 3, ret: Int},
	"putchar":   {syscall: 4, arity: 1, ret: Int},
	"exec":      {syscall: -1, arity: 1, ret: Int},
}

// funcInfo is one registered function signature plus, once its body has
// been emitted, its entry instruction index.
type funcInfo struct {
	name    string
	ret     *Type
	params  []Param
	entry   int // instruction index of the function prologue
	defined bool
	pos     Position
}

// callPatch records a call site whose target index is filled in after
// all bodies are emitted.
type callPatch struct {
	instr int
	name  string
	pos   Position
}

// Generator turns a parsed source file into a program.
type Generator struct {
	structs  map[string]*Type
	funcs    map[string]*funcInfo
	literals map[string]int64 // literal value -> absolute address
	data     []byte
	rodata   int64

	globals *Scope

	code    []bytecode.Instruction
	patches []callPatch

	// Per-function state.
	scope      *Scope
	curFunc    *funcInfo
	frameWords int64
}

// Compile compiles a single self-contained source unit.
func Compile(src string) (*bytecode.Program, error) {
	return CompileWithIncludes(src, nil)
}

// CompileWithIncludes expands #include directives through resolve, then
// compiles the spliced unit.
func CompileWithIncludes(src string, resolve Resolver) (*bytecode.Program, error) {
	expanded, err := Expand(src, resolve)
	if err != nil {
		return nil, err
	}
	file, err := Parse(expanded)
	if err != nil {
		return nil, err
	}
	return NewGenerator().Generate(file)
}

// NewGenerator creates an empty generator.
func NewGenerator() *Generator {
	return &Generator{
		structs:  make(map[string]*Type),
		funcs:    make(map[string]*funcInfo),
		literals: make(map[string]int64),
		globals:  NewScope(nil),
	}
}

// Generate compiles a parsed source file into a validated program.
func (g *Generator) Generate(file *SourceFile) (*bytecode.Program, error) {
	if err := g.declareStructs(file.Structs); err != nil {
		return nil, err
	}
	if err := g.layoutData(file); err != nil {
		return nil, err
	}
	if err := g.declareFuncs(file.Funcs); err != nil {
		return nil, err
	}

	mainInfo, ok := g.funcs["main"]
	if !ok || !mainInfo.defined {
		return nil, &SemanticError{Kind: ErrNoEntryPoint, Context: "program defines no main function", Pos: file.Pos()}
	}
	if len(mainInfo.params) != 0 {
		return nil, &SemanticError{Kind: ErrArity, Context: "main must take no parameters", Pos: mainInfo.pos}
	}

	for _, fn := range file.Funcs {
		if fn.Body == nil {
			continue
		}
		if err := g.genFunc(fn); err != nil {
			return nil, err
		}
	}

	// Entry stub: call main, then halt with its return value.
	entry := len(g.code)
	g.patches = append(g.patches, callPatch{instr: g.emit(bytecode.OpCall, 0), name: "main", pos: mainInfo.pos})
	g.emit(bytecode.OpHalt, 0)

	for _, patch := range g.patches {
		info := g.funcs[patch.name]
		if !info.defined {
			return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("function %q declared but never defined", patch.name), Pos: patch.pos}
		}
		g.code[patch.instr].Operand = int64(info.entry)
	}

	prog := &bytecode.Program{
		Version:   bytecode.FormatVersion,
		Entry:     entry,
		Code:      g.code,
		Data:      g.data,
		RODataLen: int(g.rodata),
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("generated program failed validation: %w", err)
	}
	return prog, nil
}

// emit appends one instruction and returns its index.
func (g *Generator) emit(op bytecode.Opcode, operand int64) int {
	g.code = append(g.code, bytecode.Instruction{Op: op, Operand: operand})
	return len(g.code) - 1
}

// ---------------------------------------------------------------------------
// Pass 1: struct layouts, data segment, function signatures
// ---------------------------------------------------------------------------

// declareStructs builds the struct table. A struct may embed (by value)
// only structs declared before it; pointers may reference any declared
// struct, itself included.
func (g *Generator) declareStructs(decls []*StructDecl) error {
	for _, decl := range decls {
		if _, exists := g.structs[decl.Name]; exists {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("struct %q", decl.Name), Pos: decl.Pos()}
		}
		// Register before resolving fields so self-referential pointers work.
		st := &Type{Kind: TypeStruct, Name: decl.Name}
		g.structs[decl.Name] = st

		seen := make(map[string]bool)
		for _, f := range decl.Fields {
			if seen[f.Name] {
				return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("field %q in struct %q", f.Name, decl.Name), Pos: f.Pos}
			}
			seen[f.Name] = true
			ft, err := g.resolveType(f.Type, f.Pos)
			if err != nil {
				return err
			}
			if ft.Kind == TypeStruct && len(ft.Fields) == 0 {
				return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("struct %q embeds incomplete struct %q", decl.Name, ft.Name), Pos: f.Pos}
			}
			if ft.Kind == TypeVoid {
				return &SemanticError{Kind: ErrTypeMismatch, Context: "field of type void", Pos: f.Pos}
			}
			st.Fields = append(st.Fields, Param{Name: f.Name, Type: ft, Pos: f.Pos})
		}
	}
	return nil
}

// resolveType replaces parser-produced struct references with their
// canonical table entries, recursively through pointers and arrays.
func (g *Generator) resolveType(t *Type, pos Position) (*Type, error) {
	switch t.Kind {
	case TypeStruct:
		st, ok := g.structs[t.Name]
		if !ok {
			return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("struct %q", t.Name), Pos: pos}
		}
		return st, nil
	case TypePointer:
		elem, err := g.resolveType(t.Elem, pos)
		if err != nil {
			return nil, err
		}
		t.Elem = elem
	case TypeArray:
		elem, err := g.resolveType(t.Elem, pos)
		if err != nil {
			return nil, err
		}
		if elem.Kind == TypeVoid {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "array of void", Pos: pos}
		}
		t.Elem = elem
	}
	return t, nil
}

// layoutData collects string literals and global variables into the data
// segment: literals first (the read-only prefix), then word-aligned
// global storage.
func (g *Generator) layoutData(file *SourceFile) error {
	// Literals are assigned addresses in first-encounter source order so
	// layout is deterministic for a given unit.
	var litOrder []string
	collect := func(e Expr) {
		if lit, ok := e.(*StringLit); ok {
			if _, seen := g.literals[lit.Value]; !seen {
				g.literals[lit.Value] = 0 // address assigned below
				litOrder = append(litOrder, lit.Value)
			}
		}
	}
	for _, decl := range file.Globals {
		if decl.Init != nil {
			walkExpr(decl.Init, collect)
		}
	}
	for _, fn := range file.Funcs {
		if fn.Body != nil {
			walkStmt(fn.Body, collect)
		}
	}

	var off int64
	for _, value := range litOrder {
		g.literals[value] = bytecode.DataBase + off
		off += int64(len(value)) + 1 // trailing NUL
	}
	g.rodata = off

	// Globals follow the literal region, each word-aligned.
	off = bytecode.AlignWord(off)
	for _, decl := range file.Globals {
		t, err := g.resolveType(decl.Type, decl.Pos())
		if err != nil {
			return err
		}
		if t.Kind == TypeVoid {
			return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("global %q has type void", decl.Name), Pos: decl.Pos()}
		}
		decl.Type = t
		sym := &Symbol{
			Name:  decl.Name,
			Class: StorageGlobal,
			Type:  t,
			Addr:  bytecode.DataBase + off,
		}
		if !g.globals.Declare(sym) {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("global %q", decl.Name), Pos: decl.Pos()}
		}
		off += bytecode.AlignWord(t.Size())
	}

	g.data = make([]byte, off)
	for _, value := range litOrder {
		at := g.literals[value] - bytecode.DataBase
		copy(g.data[at:], value)
		// implicit NUL: the slab is zeroed
	}

	// Global initializers are constant expressions evaluated at compile
	// time and written little-endian, matching the machine's byte order.
	for _, decl := range file.Globals {
		if decl.Init == nil {
			continue
		}
		if !decl.Type.IsScalar() {
			return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("global %q: aggregate initializers are not supported", decl.Name), Pos: decl.Pos()}
		}
		value, err := g.constEval(decl.Init)
		if err != nil {
			return err
		}
		sym, _ := g.globals.Lookup(decl.Name)
		at := sym.Addr - bytecode.DataBase
		if decl.Type.Size() == 1 {
			g.data[at] = byte(value)
		} else {
			binary.LittleEndian.PutUint64(g.data[at:], uint64(value))
		}
	}
	return nil
}

// constEval evaluates a constant expression for a global initializer.
func (g *Generator) constEval(e Expr) (int64, error) {
	switch e := e.(type) {
	case *IntLit:
		return e.Value, nil
	case *CharLit:
		return int64(e.Value), nil
	case *StringLit:
		return g.literals[e.Value], nil
	case *SizeofExpr:
		t, err := g.resolveType(e.Type, e.Pos())
		if err != nil {
			return 0, err
		}
		return t.Size(), nil
	case *Cast:
		return g.constEval(e.Value)
	case *Unary:
		v, err := g.constEval(e.Operand)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case TokenMinus:
			return -v, nil
		case TokenBang:
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
	case *Binary:
		l, err := g.constEval(e.Left)
		if err != nil {
			return 0, err
		}
		r, err := g.constEval(e.Right)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case TokenPlus:
			return l + r, nil
		case TokenMinus:
			return l - r, nil
		case TokenStar:
			return l * r, nil
		case TokenSlash:
			if r == 0 {
				return 0, &SemanticError{Kind: ErrTypeMismatch, Context: "division by zero in constant expression", Pos: e.Pos()}
			}
			return l / r, nil
		case TokenPercent:
			if r == 0 {
				return 0, &SemanticError{Kind: ErrTypeMismatch, Context: "division by zero in constant expression", Pos: e.Pos()}
			}
			return l % r, nil
		}
	}
	return 0, &SemanticError{Kind: ErrTypeMismatch, Context: "global initializer must be a constant expression", Pos: e.Pos()}
}

// declareFuncs registers every function signature. A forward declaration
// followed by a definition is one function; mismatched signatures and
// duplicate definitions are redeclarations.
func (g *Generator) declareFuncs(decls []*FuncDecl) error {
	for _, decl := range decls {
		if _, isBuiltin := builtinFuncs[decl.Name]; isBuiltin {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("%q is a builtin function", decl.Name), Pos: decl.Pos()}
		}
		if _, isGlobal := g.globals.Lookup(decl.Name); isGlobal {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("%q is already a global variable", decl.Name), Pos: decl.Pos()}
		}

		ret, err := g.resolveType(decl.Ret, decl.Pos())
		if err != nil {
			return err
		}
		if ret.Kind == TypeStruct || ret.Kind == TypeArray {
			return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("function %q returns an aggregate; return a pointer instead", decl.Name), Pos: decl.Pos()}
		}
		decl.Ret = ret

		params := make([]Param, len(decl.Params))
		for i, p := range decl.Params {
			pt, err := g.resolveType(p.Type, p.Pos)
			if err != nil {
				return err
			}
			if !pt.IsScalar() {
				return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("parameter %q is an aggregate; pass a pointer instead", p.Name), Pos: p.Pos}
			}
			params[i] = Param{Name: p.Name, Type: pt, Pos: p.Pos}
		}
		decl.Params = params

		existing, seen := g.funcs[decl.Name]
		if !seen {
			g.funcs[decl.Name] = &funcInfo{
				name:    decl.Name,
				ret:     ret,
				params:  params,
				defined: decl.Body != nil,
				pos:     decl.Pos(),
			}
			continue
		}

		if !sameSignature(existing, ret, params) {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("function %q redeclared with a different signature", decl.Name), Pos: decl.Pos()}
		}
		if decl.Body != nil {
			if existing.defined {
				return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("function %q defined twice", decl.Name), Pos: decl.Pos()}
			}
			existing.defined = true
			existing.pos = decl.Pos()
		}
	}
	return nil
}

func sameSignature(info *funcInfo, ret *Type, params []Param) bool {
	if !info.ret.Equal(ret) || len(info.params) != len(params) {
		return false
	}
	for i := range params {
		if !info.params[i].Type.Equal(params[i].Type) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Pass 2: function bodies
// ---------------------------------------------------------------------------

// Frame layout, addresses relative to the base pointer, in words:
//
//   bp + 2+k   argument slots (last argument at bp+2)
//   bp + 1     return address
//   bp + 0     caller base pointer
//   bp - 1..   local slots, growing downward
//
// Every parameter is spilled into a local slot in the prologue so that
// address-of works uniformly on parameters and locals.

// genFunc emits one function body.
func (g *Generator) genFunc(fn *FuncDecl) error {
	info := g.funcs[fn.Name]
	info.entry = len(g.code)

	g.curFunc = info
	g.frameWords = 0
	g.scope = NewScope(g.globals)

	enter := g.emit(bytecode.OpEnter, 0) // slot count patched below

	nargs := len(fn.Params)
	for i, p := range fn.Params {
		slot := g.frameWords
		g.frameWords++
		sym := &Symbol{Name: p.Name, Class: StorageParam, Type: p.Type, Slot: slot, Words: 1}
		if !g.scope.Declare(sym) {
			return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("parameter %q", p.Name), Pos: p.Pos}
		}
		// Argument i sits at bp + 2 + (nargs-1-i).
		g.emit(bytecode.OpLoadFrame, int64(2+(nargs-1-i)))
		g.emit(bytecode.OpStoreFrame, -(slot + 1))
	}

	for _, stmt := range fn.Body.Stmts {
		if err := g.genStmt(stmt); err != nil {
			return err
		}
	}

	// Implicit return for control flow that falls off the end.
	g.emit(bytecode.OpPush, 0)
	g.emit(bytecode.OpRet, int64(nargs))

	g.code[enter].Operand = g.frameWords
	g.scope = nil
	g.curFunc = nil
	return nil
}

// genStmt emits one statement.
func (g *Generator) genStmt(stmt Stmt) error {
	switch stmt := stmt.(type) {
	case *BlockStmt:
		g.scope = NewScope(g.scope)
		for _, s := range stmt.Stmts {
			if err := g.genStmt(s); err != nil {
				return err
			}
		}
		g.scope = g.scope.Parent()
		return nil

	case *DeclStmt:
		return g.genDecl(stmt)

	case *ExprStmt:
		if _, err := g.genExpr(stmt.Expr); err != nil {
			return err
		}
		g.emit(bytecode.OpPop, 0)
		return nil

	case *IfStmt:
		if err := g.genCond(stmt.Cond); err != nil {
			return err
		}
		jumpElse := g.emit(bytecode.OpJz, 0)
		if err := g.genStmt(stmt.Then); err != nil {
			return err
		}
		if stmt.Else == nil {
			g.code[jumpElse].Operand = int64(len(g.code))
			return nil
		}
		jumpEnd := g.emit(bytecode.OpJmp, 0)
		g.code[jumpElse].Operand = int64(len(g.code))
		if err := g.genStmt(stmt.Else); err != nil {
			return err
		}
		g.code[jumpEnd].Operand = int64(len(g.code))
		return nil

	case *WhileStmt:
		top := int64(len(g.code))
		if err := g.genCond(stmt.Cond); err != nil {
			return err
		}
		jumpOut := g.emit(bytecode.OpJz, 0)
		if err := g.genStmt(stmt.Body); err != nil {
			return err
		}
		g.emit(bytecode.OpJmp, top)
		g.code[jumpOut].Operand = int64(len(g.code))
		return nil

	case *ReturnStmt:
		if stmt.Value != nil {
			t, err := g.genExpr(stmt.Value)
			if err != nil {
				return err
			}
			if !t.Decay().IsScalar() {
				return &SemanticError{Kind: ErrTypeMismatch, Context: "cannot return an aggregate value", Pos: stmt.Pos()}
			}
			if g.curFunc.ret.Kind == TypeVoid {
				return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("void function %q returns a value", g.curFunc.name), Pos: stmt.Pos()}
			}
		} else {
			g.emit(bytecode.OpPush, 0)
		}
		g.emit(bytecode.OpRet, int64(len(g.curFunc.params)))
		return nil
	}

	return &SemanticError{Kind: ErrTypeMismatch, Context: "unsupported statement", Pos: stmt.Pos()}
}

// genDecl allocates a frame slot for a local and emits its initializer.
func (g *Generator) genDecl(decl *DeclStmt) error {
	t, err := g.resolveType(decl.Type, decl.Pos())
	if err != nil {
		return err
	}
	if t.Kind == TypeVoid {
		return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("local %q has type void", decl.Name), Pos: decl.Pos()}
	}
	if t.Kind == TypeStruct && len(t.Fields) == 0 {
		return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("local %q has incomplete struct type", decl.Name), Pos: decl.Pos()}
	}
	decl.Type = t

	words := bytecode.AlignWord(t.Size()) / bytecode.WordSize
	if words < 1 {
		words = 1
	}
	slot := g.frameWords
	g.frameWords += words

	sym := &Symbol{Name: decl.Name, Class: StorageLocal, Type: t, Slot: slot, Words: words}
	if !g.scope.Declare(sym) {
		return &SemanticError{Kind: ErrRedeclaration, Context: fmt.Sprintf("local %q", decl.Name), Pos: decl.Pos()}
	}

	if decl.Init == nil {
		return nil
	}
	if !t.IsScalar() {
		return &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("local %q: aggregate initializers are not supported", decl.Name), Pos: decl.Pos()}
	}

	vt, err := g.genExpr(decl.Init)
	if err != nil {
		return err
	}
	if !vt.Decay().IsScalar() {
		return &SemanticError{Kind: ErrTypeMismatch, Context: "initializer is not a scalar value", Pos: decl.Init.Pos()}
	}

	if t.Size() == 1 {
		g.emit(bytecode.OpFrameAddr, -(slot + 1))
		g.emit(bytecode.OpSwap, 0)
		g.emit(bytecode.OpStoreByte, 0)
	} else {
		g.emit(bytecode.OpStoreFrame, -(slot + 1))
	}
	return nil
}

// genCond emits a branch condition, leaving one word on the stack.
func (g *Generator) genCond(e Expr) error {
	t, err := g.genExpr(e)
	if err != nil {
		return err
	}
	if !t.Decay().IsScalar() {
		return &SemanticError{Kind: ErrTypeMismatch, Context: "condition is not a scalar value", Pos: e.Pos()}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// genExpr emits code that leaves the expression's value on the stack and
// returns its type. Aggregate-typed expressions (structs, arrays)
// evaluate to their base address.
func (g *Generator) genExpr(e Expr) (*Type, error) {
	switch e := e.(type) {
	case *IntLit:
		g.emit(bytecode.OpPush, e.Value)
		return Int, nil

	case *CharLit:
		g.emit(bytecode.OpPush, int64(e.Value))
		return Char, nil

	case *StringLit:
		g.emit(bytecode.OpPush, g.literals[e.Value])
		return PointerTo(Char), nil

	case *SizeofExpr:
		t, err := g.resolveType(e.Type, e.Pos())
		if err != nil {
			return nil, err
		}
		g.emit(bytecode.OpPush, t.Size())
		return Int, nil

	case *Cast:
		t, err := g.resolveType(e.Type, e.Pos())
		if err != nil {
			return nil, err
		}
		if !t.IsScalar() && t.Kind != TypeVoid {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot cast to %s", t), Pos: e.Pos()}
		}
		vt, err := g.genExpr(e.Value)
		if err != nil {
			return nil, err
		}
		if !vt.Decay().IsScalar() {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot cast %s", vt), Pos: e.Pos()}
		}
		return t, nil

	case *Ident:
		return g.genIdent(e)

	case *Unary:
		return g.genUnary(e)

	case *Binary:
		return g.genBinary(e)

	case *Assign:
		return g.genAssign(e)

	case *Call:
		return g.genCall(e)

	case *Index, *Field:
		t, err := g.genAddr(e)
		if err != nil {
			return nil, err
		}
		if t.IsScalar() {
			g.emitLoad(t)
		}
		return t, nil
	}

	return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "unsupported expression", Pos: e.Pos()}
}

// emitLoad loads a scalar from the address on top of the stack.
func (g *Generator) emitLoad(t *Type) {
	if t.Size() == 1 {
		g.emit(bytecode.OpLoadByte, 0)
	} else {
		g.emit(bytecode.OpLoad, 0)
	}
}

// emitStoreTopValue stores the value on top of the stack through the
// address beneath it. Stack on entry: [... addr value].
func (g *Generator) emitStoreTopValue(t *Type) {
	if t.Size() == 1 {
		g.emit(bytecode.OpStoreByte, 0)
	} else {
		g.emit(bytecode.OpStore, 0)
	}
}

func (g *Generator) genIdent(e *Ident) (*Type, error) {
	sym, ok := g.lookup(e.Name)
	if !ok {
		if _, isFunc := g.funcs[e.Name]; isFunc {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("function %q used as a value", e.Name), Pos: e.Pos()}
		}
		return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("%q", e.Name), Pos: e.Pos()}
	}

	t := sym.Type
	if !t.IsScalar() {
		// Aggregates evaluate to their base address.
		g.emitSymbolAddr(sym)
		return t, nil
	}

	if sym.Class == StorageGlobal {
		g.emit(bytecode.OpPush, sym.Addr)
		g.emitLoad(t)
		return t, nil
	}
	if t.Size() == 1 {
		g.emit(bytecode.OpFrameAddr, -(sym.Slot + sym.Words))
		g.emit(bytecode.OpLoadByte, 0)
		return t, nil
	}
	g.emit(bytecode.OpLoadFrame, -(sym.Slot + 1))
	return t, nil
}

func (g *Generator) lookup(name string) (*Symbol, bool) {
	if g.scope != nil {
		return g.scope.Lookup(name)
	}
	return g.globals.Lookup(name)
}

// emitSymbolAddr pushes the address of a symbol's storage.
func (g *Generator) emitSymbolAddr(sym *Symbol) {
	if sym.Class == StorageGlobal {
		g.emit(bytecode.OpPush, sym.Addr)
		return
	}
	g.emit(bytecode.OpFrameAddr, -(sym.Slot + sym.Words))
}

func (g *Generator) genUnary(e *Unary) (*Type, error) {
	switch e.Op {
	case TokenMinus:
		t, err := g.genExpr(e.Operand)
		if err != nil {
			return nil, err
		}
		if !t.IsScalar() {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot negate %s", t), Pos: e.Pos()}
		}
		g.emit(bytecode.OpNeg, 0)
		return Int, nil

	case TokenBang:
		t, err := g.genExpr(e.Operand)
		if err != nil {
			return nil, err
		}
		if !t.Decay().IsScalar() {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot apply ! to %s", t), Pos: e.Pos()}
		}
		g.emit(bytecode.OpNot, 0)
		return Int, nil

	case TokenStar:
		t, err := g.genExpr(e.Operand)
		if err != nil {
			return nil, err
		}
		pt := t.Decay()
		if pt.Kind != TypePointer {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot dereference %s", t), Pos: e.Pos()}
		}
		if pt.Elem.IsScalar() {
			g.emitLoad(pt.Elem)
		}
		return pt.Elem, nil

	case TokenAmp:
		t, err := g.genAddr(e.Operand)
		if err != nil {
			return nil, err
		}
		return PointerTo(t), nil
	}

	return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "unsupported unary operator", Pos: e.Pos()}
}

var binaryOps = map[TokenType]bytecode.Opcode{
	TokenPlus:    bytecode.OpAdd,
	TokenMinus:   bytecode.OpSub,
	TokenStar:    bytecode.OpMul,
	TokenSlash:   bytecode.OpDiv,
	TokenPercent: bytecode.OpMod,
	TokenEq:      bytecode.OpEq,
	TokenNe:      bytecode.OpNe,
	TokenLt:      bytecode.OpLt,
	TokenLe:      bytecode.OpLe,
	TokenGt:      bytecode.OpGt,
	TokenGe:      bytecode.OpGe,
}

func (g *Generator) genBinary(e *Binary) (*Type, error) {
	if e.Op == TokenAndAnd || e.Op == TokenOrOr {
		return g.genLogical(e)
	}

	lt, err := g.genExpr(e.Left)
	if err != nil {
		return nil, err
	}
	lt = lt.Decay()
	if !lt.IsScalar() {
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("operand of type %s", lt), Pos: e.Left.Pos()}
	}

	rt, err := g.genExpr(e.Right)
	if err != nil {
		return nil, err
	}
	rt = rt.Decay()
	if !rt.IsScalar() {
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("operand of type %s", rt), Pos: e.Right.Pos()}
	}

	op, ok := binaryOps[e.Op]
	if !ok {
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "unsupported binary operator", Pos: e.Pos()}
	}

	// Pointer arithmetic scales the integer operand by the element size.
	switch {
	case e.Op == TokenPlus && lt.Kind == TypePointer && rt.Kind != TypePointer:
		g.emitScale(lt.Elem.Size())
		g.emit(bytecode.OpAdd, 0)
		return lt, nil
	case e.Op == TokenPlus && rt.Kind == TypePointer && lt.Kind != TypePointer:
		g.emit(bytecode.OpSwap, 0)
		g.emitScale(rt.Elem.Size())
		g.emit(bytecode.OpAdd, 0)
		return rt, nil
	case e.Op == TokenMinus && lt.Kind == TypePointer && rt.Kind != TypePointer:
		g.emitScale(lt.Elem.Size())
		g.emit(bytecode.OpSub, 0)
		return lt, nil
	case e.Op == TokenMinus && lt.Kind == TypePointer && rt.Kind == TypePointer:
		if !lt.Elem.Equal(rt.Elem) {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "subtraction of pointers to different types", Pos: e.Pos()}
		}
		g.emit(bytecode.OpSub, 0)
		if size := lt.Elem.Size(); size > 1 {
			g.emit(bytecode.OpPush, size)
			g.emit(bytecode.OpDiv, 0)
		}
		return Int, nil
	case (lt.Kind == TypePointer || rt.Kind == TypePointer) && !op.IsComparison():
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("invalid pointer operation %s", e.Op), Pos: e.Pos()}
	}

	g.emit(op, 0)
	if op.IsComparison() {
		return Int, nil
	}
	if lt.Kind == TypePointer {
		return lt, nil
	}
	return Int, nil
}

// emitScale multiplies the top of the stack by size when size > 1.
func (g *Generator) emitScale(size int64) {
	if size > 1 {
		g.emit(bytecode.OpPush, size)
		g.emit(bytecode.OpMul, 0)
	}
}

// genLogical emits short-circuit && and ||; the result is always 0 or 1.
func (g *Generator) genLogical(e *Binary) (*Type, error) {
	shortOp := bytecode.OpJz
	shortValue, longValue := int64(0), int64(1)
	if e.Op == TokenOrOr {
		shortOp = bytecode.OpJnz
		shortValue, longValue = 1, 0
	}

	if err := g.genCond(e.Left); err != nil {
		return nil, err
	}
	jumpA := g.emit(shortOp, 0)
	if err := g.genCond(e.Right); err != nil {
		return nil, err
	}
	jumpB := g.emit(shortOp, 0)

	g.emit(bytecode.OpPush, longValue)
	jumpEnd := g.emit(bytecode.OpJmp, 0)
	short := int64(len(g.code))
	g.emit(bytecode.OpPush, shortValue)
	end := int64(len(g.code))

	g.code[jumpA].Operand = short
	g.code[jumpB].Operand = short
	g.code[jumpEnd].Operand = end
	return Int, nil
}

func (g *Generator) genAssign(e *Assign) (*Type, error) {
	vt, err := g.genExpr(e.Value)
	if err != nil {
		return nil, err
	}
	if !vt.Decay().IsScalar() {
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "cannot assign an aggregate value", Pos: e.Value.Pos()}
	}

	// Fast path: scalar word-sized local.
	if ident, ok := e.Target.(*Ident); ok {
		if sym, found := g.lookup(ident.Name); found && sym.Class != StorageGlobal && sym.Type.IsScalar() && sym.Type.Size() != 1 {
			g.emit(bytecode.OpDup, 0)
			g.emit(bytecode.OpStoreFrame, -(sym.Slot + 1))
			return sym.Type, nil
		}
	}

	g.emit(bytecode.OpDup, 0)
	tt, err := g.genAddr(e.Target)
	if err != nil {
		return nil, err
	}
	if !tt.IsScalar() {
		return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot assign to %s", tt), Pos: e.Target.Pos()}
	}
	g.emit(bytecode.OpSwap, 0)
	g.emitStoreTopValue(tt)
	if tt.Size() == 1 {
		// The stored byte reads back zero-extended, so the value the
		// assignment yields must match: ((v % 256) + 256) % 256.
		g.emit(bytecode.OpPush, 256)
		g.emit(bytecode.OpMod, 0)
		g.emit(bytecode.OpPush, 256)
		g.emit(bytecode.OpAdd, 0)
		g.emit(bytecode.OpPush, 256)
		g.emit(bytecode.OpMod, 0)
	}
	return tt, nil
}

func (g *Generator) genCall(e *Call) (*Type, error) {
	if b, isBuiltin := builtinFuncs[e.Name]; isBuiltin {
		return g.genBuiltin(e, b)
	}

	info, ok := g.funcs[e.Name]
	if !ok {
		if _, isVar := g.lookup(e.Name); isVar {
			return nil, &SemanticError{Kind: ErrNotCallable, Context: fmt.Sprintf("%q is a variable", e.Name), Pos: e.Pos()}
		}
		return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("function %q", e.Name), Pos: e.Pos()}
	}
	if len(e.Args) != len(info.params) {
		return nil, &SemanticError{
			Kind:    ErrArity,
			Context: fmt.Sprintf("%q takes %d arguments, got %d", e.Name, len(info.params), len(e.Args)),
			Pos:     e.Pos(),
		}
	}

	for i, arg := range e.Args {
		at, err := g.genExpr(arg)
		if err != nil {
			return nil, err
		}
		if !at.Decay().IsScalar() {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("argument %d of %q is an aggregate", i+1, e.Name), Pos: arg.Pos()}
		}
	}

	g.patches = append(g.patches, callPatch{instr: g.emit(bytecode.OpCall, 0), name: e.Name, pos: e.Pos()})
	return info.ret, nil
}

// genBuiltin lowers a builtin call to a SYSCALL or EXEC instruction.
func (g *Generator) genBuiltin(e *Call, b builtin) (*Type, error) {
	if len(e.Args) != b.arity {
		return nil, &SemanticError{
			Kind:    ErrArity,
			Context: fmt.Sprintf("%q takes %d arguments, got %d", e.Name, b.arity, len(e.Args)),
			Pos:     e.Pos(),
		}
	}
	for i, arg := range e.Args {
		at, err := g.genExpr(arg)
		if err != nil {
			return nil, err
		}
		if !at.Decay().IsScalar() {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("argument %d of %q is an aggregate", i+1, e.Name), Pos: arg.Pos()}
		}
	}

	if b.syscall < 0 {
		// EXEC replaces the running program; the push keeps the static
		// stack discipline intact for the unreachable continuation.
		g.emit(bytecode.OpExec, 0)
		g.emit(bytecode.OpPush, 0)
		return b.ret, nil
	}
	g.emit(bytecode.OpSyscall, b.syscall)
	return b.ret, nil
}

// ---------------------------------------------------------------------------
// Lvalues
// ---------------------------------------------------------------------------

// genAddr emits code that leaves the address of an lvalue on the stack
// and returns the type of the storage it designates.
func (g *Generator) genAddr(e Expr) (*Type, error) {
	switch e := e.(type) {
	case *Ident:
		sym, ok := g.lookup(e.Name)
		if !ok {
			return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("%q", e.Name), Pos: e.Pos()}
		}
		g.emitSymbolAddr(sym)
		return sym.Type, nil

	case *Unary:
		if e.Op != TokenStar {
			break
		}
		t, err := g.genExpr(e.Operand)
		if err != nil {
			return nil, err
		}
		pt := t.Decay()
		if pt.Kind != TypePointer {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot dereference %s", t), Pos: e.Pos()}
		}
		return pt.Elem, nil

	case *Index:
		bt, err := g.genExpr(e.Base)
		if err != nil {
			return nil, err
		}
		pt := bt.Decay()
		if pt.Kind != TypePointer {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("cannot index %s", bt), Pos: e.Pos()}
		}
		it, err := g.genExpr(e.Idx)
		if err != nil {
			return nil, err
		}
		if it.Decay().Kind == TypePointer {
			return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "array index is a pointer", Pos: e.Idx.Pos()}
		}
		g.emitScale(pt.Elem.Size())
		g.emit(bytecode.OpAdd, 0)
		return pt.Elem, nil

	case *Field:
		var base *Type
		var err error
		if e.Arrow {
			base, err = g.genExpr(e.Base)
			if err != nil {
				return nil, err
			}
			pt := base.Decay()
			if pt.Kind != TypePointer || pt.Elem.Kind != TypeStruct {
				return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf("-> on %s", base), Pos: e.Pos()}
			}
			base = pt.Elem
		} else {
			base, err = g.genAddr(e.Base)
			if err != nil {
				return nil, err
			}
			if base.Kind != TypeStruct {
				return nil, &SemanticError{Kind: ErrTypeMismatch, Context: fmt.Sprintf(". on %s", base), Pos: e.Pos()}
			}
		}
		off, ft, ok := base.FieldOffset(e.Name)
		if !ok {
			return nil, &SemanticError{Kind: ErrUnresolved, Context: fmt.Sprintf("field %q in struct %q", e.Name, base.Name), Pos: e.Pos()}
		}
		if off != 0 {
			g.emit(bytecode.OpPush, off)
			g.emit(bytecode.OpAdd, 0)
		}
		return ft, nil
	}

	return nil, &SemanticError{Kind: ErrTypeMismatch, Context: "expression is not an lvalue", Pos: e.Pos()}
}

// ---------------------------------------------------------------------------
// AST walking (literal collection)
// ---------------------------------------------------------------------------

func walkStmt(stmt Stmt, visit func(Expr)) {
	switch stmt := stmt.(type) {
	case *BlockStmt:
		for _, s := range stmt.Stmts {
			walkStmt(s, visit)
		}
	case *DeclStmt:
		if stmt.Init != nil {
			walkExpr(stmt.Init, visit)
		}
	case *ExprStmt:
		walkExpr(stmt.Expr, visit)
	case *IfStmt:
		walkExpr(stmt.Cond, visit)
		walkStmt(stmt.Then, visit)
		if stmt.Else != nil {
			walkStmt(stmt.Else, visit)
		}
	case *WhileStmt:
		walkExpr(stmt.Cond, visit)
		walkStmt(stmt.Body, visit)
	case *ReturnStmt:
		if stmt.Value != nil {
			walkExpr(stmt.Value, visit)
		}
	}
}

func walkExpr(e Expr, visit func(Expr)) {
	visit(e)
	switch e := e.(type) {
	case *Binary:
		walkExpr(e.Left, visit)
		walkExpr(e.Right, visit)
	case *Unary:
		walkExpr(e.Operand, visit)
	case *Assign:
		walkExpr(e.Target, visit)
		walkExpr(e.Value, visit)
	case *Call:
		for _, arg := range e.Args {
			walkExpr(arg, visit)
		}
	case *Index:
		walkExpr(e.Base, visit)
		walkExpr(e.Idx, visit)
	case *Field:
		walkExpr(e.Base, visit)
	case *Cast:
		walkExpr(e.Value, visit)
	}
}
