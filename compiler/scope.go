package compiler

// ---------------------------------------------------------------------------
// Scope chain and symbol table
// ---------------------------------------------------------------------------
//
// Scopes form a strict lexical chain: pushed on block/function entry,
// popped on exit, never retained after code generation. The chain is an
// explicit value threaded through the generator, not ambient state.

// StorageClass identifies where a symbol's storage lives.
type StorageClass int

const (
	StorageGlobal StorageClass = iota
	StorageLocal
	StorageParam
)

func (c StorageClass) String() string {
	switch c {
	case StorageGlobal:
		return "global"
	case StorageLocal:
		return "local"
	case StorageParam:
		return "parameter"
	}
	return "storage(?)"
}

// Symbol is one resolved name: its storage class, its declared type, and
// either a data-segment address (globals) or a frame slot (locals/params).
type Symbol struct {
	Name  string
	Class StorageClass
	Type  *Type

	// Addr is the absolute data-segment address for globals.
	Addr int64

	// Slot is the first frame word the symbol occupies, counted from the
	// base pointer downward; Words is how many words it spans.
	Slot  int64
	Words int64
}

// Scope is one link in the lexical scope chain.
type Scope struct {
	parent  *Scope
	symbols map[string]*Symbol
}

// NewScope creates a scope nested inside parent (parent may be nil).
func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:  parent,
		symbols: make(map[string]*Symbol),
	}
}

// Declare binds a symbol in this scope. Declaring a name twice in the
// same scope is a semantic error surfaced by the caller.
func (s *Scope) Declare(sym *Symbol) bool {
	if _, exists := s.symbols[sym.Name]; exists {
		return false
	}
	s.symbols[sym.Name] = sym
	return true
}

// Lookup resolves a name through the chain, innermost scope first.
func (s *Scope) Lookup(name string) (*Symbol, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if sym, ok := scope.symbols[name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// Parent returns the enclosing scope, nil at the global scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}
