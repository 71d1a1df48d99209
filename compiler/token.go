package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the C-subset lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIntLit    // 42, 0x1F
	TokenCharLit   // 'a', '\n'
	TokenStringLit // "hello"
	TokenIdentifier

	// Keywords
	TokenInt
	TokenChar
	TokenVoid
	TokenStruct
	TokenIf
	TokenElse
	TokenWhile
	TokenReturn
	TokenSizeof

	// Operators
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenAssign  // =
	TokenEq      // ==
	TokenNe      // !=
	TokenLt      // <
	TokenLe      // <=
	TokenGt      // >
	TokenGe      // >=
	TokenAndAnd  // &&
	TokenOrOr    // ||
	TokenBang    // !
	TokenAmp     // &
	TokenArrow   // ->

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenSemicolon // ;
	TokenDot       // .
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenIntLit:     "INTEGER",
	TokenCharLit:    "CHARACTER",
	TokenStringLit:  "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenInt:        "int",
	TokenChar:       "char",
	TokenVoid:       "void",
	TokenStruct:     "struct",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenReturn:     "return",
	TokenSizeof:     "sizeof",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenAssign:     "=",
	TokenEq:         "==",
	TokenNe:         "!=",
	TokenLt:         "<",
	TokenLe:         "<=",
	TokenGt:         ">",
	TokenGe:         ">=",
	TokenAndAnd:     "&&",
	TokenOrOr:       "||",
	TokenBang:       "!",
	TokenAmp:        "&",
	TokenArrow:      "->",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenDot:        ".",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"int":    TokenInt,
	"char":   TokenChar,
	"void":   TokenVoid,
	"struct": TokenStruct,
	"if":     TokenIf,
	"else":   TokenElse,
	"while":  TokenWhile,
	"return": TokenReturn,
	"sizeof": TokenSizeof,
}

// IsTypeKeyword reports whether t can begin a type name.
func (t TokenType) IsTypeKeyword() bool {
	switch t {
	case TokenInt, TokenChar, TokenVoid, TokenStruct:
		return true
	}
	return false
}
