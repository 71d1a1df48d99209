package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for the C subset
// ---------------------------------------------------------------------------
//
// The tree is owned exclusively by one compilation unit: no sharing, no
// cycles. A syntactically accepted program always yields a complete tree;
// the parser never hands a partial AST to code generation.

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	if p.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLit represents an integer literal.
type IntLit struct {
	PosVal Position
	Value  int64
}

func (n *IntLit) Pos() Position { return n.PosVal }
func (n *IntLit) node()         {}
func (n *IntLit) expr()         {}

// CharLit represents a character literal.
type CharLit struct {
	PosVal Position
	Value  byte
}

func (n *CharLit) Pos() Position { return n.PosVal }
func (n *CharLit) node()         {}
func (n *CharLit) expr()         {}

// StringLit represents a string literal. The value is materialized once
// into the data segment with a trailing NUL and referenced by address.
type StringLit struct {
	PosVal Position
	Value  string
}

func (n *StringLit) Pos() Position { return n.PosVal }
func (n *StringLit) node()         {}
func (n *StringLit) expr()         {}

// Ident represents a variable or function reference.
type Ident struct {
	PosVal Position
	Name   string
}

func (n *Ident) Pos() Position { return n.PosVal }
func (n *Ident) node()         {}
func (n *Ident) expr()         {}

// Binary represents a binary operation. Op is the operator token type.
type Binary struct {
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

func (n *Binary) Pos() Position { return n.PosVal }
func (n *Binary) node()         {}
func (n *Binary) expr()         {}

// Unary represents a prefix operation: -, !, * (deref), & (address-of).
type Unary struct {
	PosVal  Position
	Op      TokenType
	Operand Expr
}

func (n *Unary) Pos() Position { return n.PosVal }
func (n *Unary) node()         {}
func (n *Unary) expr()         {}

// Assign represents an assignment expression (target = value).
type Assign struct {
	PosVal Position
	Target Expr
	Value  Expr
}

func (n *Assign) Pos() Position { return n.PosVal }
func (n *Assign) node()         {}
func (n *Assign) expr()         {}

// Call represents a function or builtin call.
type Call struct {
	PosVal Position
	Name   string
	Args   []Expr
}

func (n *Call) Pos() Position { return n.PosVal }
func (n *Call) node()         {}
func (n *Call) expr()         {}

// Index represents array/pointer indexing a[i]. It lowers to
// *(a + i*elemSize) with pointer decay on the base.
type Index struct {
	PosVal Position
	Base   Expr
	Idx    Expr
}

func (n *Index) Pos() Position { return n.PosVal }
func (n *Index) node()         {}
func (n *Index) expr()         {}

// Field represents struct field access: s.f, or p->f when Arrow is set.
type Field struct {
	PosVal Position
	Base   Expr
	Name   string
	Arrow  bool
}

func (n *Field) Pos() Position { return n.PosVal }
func (n *Field) node()         {}
func (n *Field) expr()         {}

// Cast represents a type cast (T)expr. Casts reinterpret the word value;
// they emit no code.
type Cast struct {
	PosVal Position
	Type   *Type
	Value  Expr
}

func (n *Cast) Pos() Position { return n.PosVal }
func (n *Cast) node()         {}
func (n *Cast) expr()         {}

// SizeofExpr represents sizeof(type), folded to a constant at codegen.
type SizeofExpr struct {
	PosVal Position
	Type   *Type
}

func (n *SizeofExpr) Pos() Position { return n.PosVal }
func (n *SizeofExpr) node()         {}
func (n *SizeofExpr) expr()         {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// DeclStmt declares a local variable, optionally initialized.
type DeclStmt struct {
	PosVal Position
	Name   string
	Type   *Type
	Init   Expr // nil when absent
}

func (n *DeclStmt) Pos() Position { return n.PosVal }
func (n *DeclStmt) node()         {}
func (n *DeclStmt) stmt()         {}

// ExprStmt is an expression used as a statement; its value is discarded.
type ExprStmt struct {
	PosVal Position
	Expr   Expr
}

func (n *ExprStmt) Pos() Position { return n.PosVal }
func (n *ExprStmt) node()         {}
func (n *ExprStmt) stmt()         {}

// IfStmt represents if/else.
type IfStmt struct {
	PosVal Position
	Cond   Expr
	Then   Stmt
	Else   Stmt // nil when absent
}

func (n *IfStmt) Pos() Position { return n.PosVal }
func (n *IfStmt) node()         {}
func (n *IfStmt) stmt()         {}

// WhileStmt represents a while loop.
type WhileStmt struct {
	PosVal Position
	Cond   Expr
	Body   Stmt
}

func (n *WhileStmt) Pos() Position { return n.PosVal }
func (n *WhileStmt) node()         {}
func (n *WhileStmt) stmt()         {}

// ReturnStmt represents return with an optional value.
type ReturnStmt struct {
	PosVal Position
	Value  Expr // nil for bare return
}

func (n *ReturnStmt) Pos() Position { return n.PosVal }
func (n *ReturnStmt) node()         {}
func (n *ReturnStmt) stmt()         {}

// BlockStmt is a brace-delimited statement list with its own scope.
type BlockStmt struct {
	PosVal Position
	Stmts  []Stmt
}

func (n *BlockStmt) Pos() Position { return n.PosVal }
func (n *BlockStmt) node()         {}
func (n *BlockStmt) stmt()         {}

// ---------------------------------------------------------------------------
// Top-level declarations
// ---------------------------------------------------------------------------

// Param is a function parameter or struct field.
type Param struct {
	Name string
	Type *Type
	Pos  Position
}

// FuncDecl represents a function declaration. Body is nil for a forward
// declaration.
type FuncDecl struct {
	PosVal Position
	Name   string
	Ret    *Type
	Params []Param
	Body   *BlockStmt
}

func (n *FuncDecl) Pos() Position { return n.PosVal }
func (n *FuncDecl) node()         {}

// VarDecl represents a global variable declaration. Init, when present,
// must be a constant expression; its bytes land in the data segment.
type VarDecl struct {
	PosVal Position
	Name   string
	Type   *Type
	Init   Expr
}

func (n *VarDecl) Pos() Position { return n.PosVal }
func (n *VarDecl) node()         {}

// StructDecl declares a struct type with sequential, unpadded field layout.
type StructDecl struct {
	PosVal Position
	Name   string
	Fields []Param
}

func (n *StructDecl) Pos() Position { return n.PosVal }
func (n *StructDecl) node()         {}

// SourceFile is a complete parsed compilation unit, declarations in
// source order.
type SourceFile struct {
	PosVal  Position
	Structs []*StructDecl
	Globals []*VarDecl
	Funcs   []*FuncDecl
}

func (n *SourceFile) Pos() Position { return n.PosVal }
func (n *SourceFile) node()         {}
