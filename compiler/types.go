package compiler

import (
	"fmt"

	"github.com/primvm/prim/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Types for the C subset
// ---------------------------------------------------------------------------

// TypeKind enumerates the type constructors of the language.
type TypeKind int

const (
	TypeInt TypeKind = iota
	TypeChar
	TypeVoid
	TypePointer
	TypeArray
	TypeStruct
)

// Type describes a value type. Struct types start unresolved (Fields nil)
// after parsing; the code generator resolves them against the struct table
// before layout questions are asked.
type Type struct {
	Kind   TypeKind
	Elem   *Type   // pointer element / array element
	Len    int64   // array length
	Name   string  // struct name
	Fields []Param // resolved struct fields, sequential and unpadded
}

// Predefined scalar types. Shared values; never mutated.
var (
	Int  = &Type{Kind: TypeInt}
	Char = &Type{Kind: TypeChar}
	Void = &Type{Kind: TypeVoid}
)

// PointerTo returns a pointer type to elem.
func PointerTo(elem *Type) *Type {
	return &Type{Kind: TypePointer, Elem: elem}
}

// ArrayOf returns an array type of n elements.
func ArrayOf(elem *Type, n int64) *Type {
	return &Type{Kind: TypeArray, Elem: elem, Len: n}
}

// Size returns the byte size of the type. Struct types must be resolved.
func (t *Type) Size() int64 {
	switch t.Kind {
	case TypeInt, TypePointer:
		return bytecode.WordSize
	case TypeChar:
		return 1
	case TypeVoid:
		return 0
	case TypeArray:
		return t.Len * t.Elem.Size()
	case TypeStruct:
		var size int64
		for _, f := range t.Fields {
			size += f.Type.Size()
		}
		return size
	}
	return 0
}

// FieldOffset returns the byte offset and type of a struct field.
func (t *Type) FieldOffset(name string) (int64, *Type, bool) {
	if t.Kind != TypeStruct {
		return 0, nil, false
	}
	var off int64
	for _, f := range t.Fields {
		if f.Name == name {
			return off, f.Type, true
		}
		off += f.Type.Size()
	}
	return 0, nil, false
}

// IsScalar reports whether values of t fit in a single machine word.
func (t *Type) IsScalar() bool {
	switch t.Kind {
	case TypeInt, TypeChar, TypePointer:
		return true
	}
	return false
}

// Decay returns the pointer type an array decays to at use sites, or t
// itself for non-arrays.
func (t *Type) Decay() *Type {
	if t.Kind == TypeArray {
		return PointerTo(t.Elem)
	}
	return t
}

// Equal reports structural equality. Struct types compare by name.
func (t *Type) Equal(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TypePointer:
		return t.Elem.Equal(other.Elem)
	case TypeArray:
		return t.Len == other.Len && t.Elem.Equal(other.Elem)
	case TypeStruct:
		return t.Name == other.Name
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case TypeInt:
		return "int"
	case TypeChar:
		return "char"
	case TypeVoid:
		return "void"
	case TypePointer:
		return t.Elem.String() + "*"
	case TypeArray:
		return fmt.Sprintf("%s[%d]", t.Elem, t.Len)
	case TypeStruct:
		return "struct " + t.Name
	}
	return fmt.Sprintf("Type(%d)", int(t.Kind))
}
