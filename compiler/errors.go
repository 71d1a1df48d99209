package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Compiler diagnostics
// ---------------------------------------------------------------------------
//
// Every compiler stage fails with a typed error value carrying the source
// position. A failure aborts the current compilation unit entirely; no
// partial AST or bytecode is ever handed to the next stage.

// LexError reports an illegal character or unterminated literal/comment.
type LexError struct {
	Pos    Position
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %s: %s", e.Pos, e.Reason)
}

// SyntaxError reports a grammar violation at the first offending token.
type SyntaxError struct {
	Pos      Position
	Expected string
	Found    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

// SemanticErrorKind classifies code generation failures.
type SemanticErrorKind int

const (
	ErrUnresolved SemanticErrorKind = iota
	ErrRedeclaration
	ErrTypeMismatch
	ErrArity
	ErrNotCallable
	ErrNoEntryPoint
)

var semanticKindNames = map[SemanticErrorKind]string{
	ErrUnresolved:    "unresolved identifier",
	ErrRedeclaration: "redeclaration",
	ErrTypeMismatch:  "type mismatch",
	ErrArity:         "argument count mismatch",
	ErrNotCallable:   "not callable",
	ErrNoEntryPoint:  "no entry point",
}

func (k SemanticErrorKind) String() string {
	if name, ok := semanticKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SemanticErrorKind(%d)", int(k))
}

// SemanticError reports an error detected during code generation:
// unresolved identifiers, redeclarations, or type mismatches.
type SemanticError struct {
	Kind    SemanticErrorKind
	Context string
	Pos     Position
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error at %s: %s: %s", e.Pos, e.Kind, e.Context)
}
