package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for the C subset
// ---------------------------------------------------------------------------

// Lexer tokenizes source text. Tokens are produced lazily, one per call to
// NextToken, so the parser can look ahead a bounded number of tokens without
// materializing the whole program.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
	} else {
		r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
		l.ch = r
		l.pos = l.readPos
		l.readPos += size

		if r == '\n' {
			l.line++
			l.col = 0
		} else {
			l.col++
		}
	}
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token. Invalid input is reported as a
// TokenError token, never silently skipped.
func (l *Lexer) NextToken() Token {
	if errTok, ok := l.skipWhitespaceAndComments(); !ok {
		return errTok
	}

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}

	case l.ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == ';':
		l.readChar()
		return Token{Type: TokenSemicolon, Literal: ";", Pos: pos}

	case l.ch == '.':
		l.readChar()
		return Token{Type: TokenDot, Literal: ".", Pos: pos}

	case l.ch == '+':
		l.readChar()
		return Token{Type: TokenPlus, Literal: "+", Pos: pos}

	case l.ch == '-':
		l.readChar()
		if l.ch == '>' {
			l.readChar()
			return Token{Type: TokenArrow, Literal: "->", Pos: pos}
		}
		return Token{Type: TokenMinus, Literal: "-", Pos: pos}

	case l.ch == '*':
		l.readChar()
		return Token{Type: TokenStar, Literal: "*", Pos: pos}

	case l.ch == '/':
		l.readChar()
		return Token{Type: TokenSlash, Literal: "/", Pos: pos}

	case l.ch == '%':
		l.readChar()
		return Token{Type: TokenPercent, Literal: "%", Pos: pos}

	case l.ch == '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenEq, Literal: "==", Pos: pos}
		}
		return Token{Type: TokenAssign, Literal: "=", Pos: pos}

	case l.ch == '!':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenNe, Literal: "!=", Pos: pos}
		}
		return Token{Type: TokenBang, Literal: "!", Pos: pos}

	case l.ch == '<':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenLe, Literal: "<=", Pos: pos}
		}
		return Token{Type: TokenLt, Literal: "<", Pos: pos}

	case l.ch == '>':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenGe, Literal: ">=", Pos: pos}
		}
		return Token{Type: TokenGt, Literal: ">", Pos: pos}

	case l.ch == '&':
		l.readChar()
		if l.ch == '&' {
			l.readChar()
			return Token{Type: TokenAndAnd, Literal: "&&", Pos: pos}
		}
		return Token{Type: TokenAmp, Literal: "&", Pos: pos}

	case l.ch == '|':
		l.readChar()
		if l.ch == '|' {
			l.readChar()
			return Token{Type: TokenOrOr, Literal: "||", Pos: pos}
		}
		return Token{Type: TokenError, Literal: "unexpected character: |", Pos: pos}

	case l.ch == '"':
		return l.readString(pos)

	case l.ch == '\'':
		return l.readCharacter(pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos)

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", ch), Pos: pos}
	}
}

// skipWhitespaceAndComments skips whitespace, // line comments and
// /* block */ comments. Returns (errToken, false) on an unterminated
// block comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			pos := l.position()
			l.readChar() // consume /
			l.readChar() // consume *
			for {
				if l.ch == 0 {
					return Token{Type: TokenError, Literal: "unterminated comment", Pos: pos}, false
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}

		break
	}
	return Token{}, true
}

// readString reads a string literal with C escape sequences. The decoded
// value is recorded verbatim; the code generator materializes it into the
// data segment with a trailing NUL.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // consume opening "

	var sb strings.Builder
	for l.ch != '"' {
		if l.ch == 0 || l.ch == '\n' {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		if l.ch == '\\' {
			l.readChar()
			esc, ok := unescape(l.ch)
			if !ok {
				return Token{Type: TokenError, Literal: fmt.Sprintf("invalid escape: \\%c", l.ch), Pos: pos}
			}
			sb.WriteByte(esc)
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // consume closing "

	return Token{Type: TokenStringLit, Literal: sb.String(), Pos: pos}
}

// readCharacter reads a character literal.
func (l *Lexer) readCharacter(pos Position) Token {
	l.readChar() // consume opening '

	if l.ch == 0 || l.ch == '\n' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}

	var value byte
	if l.ch == '\\' {
		l.readChar()
		esc, ok := unescape(l.ch)
		if !ok {
			return Token{Type: TokenError, Literal: fmt.Sprintf("invalid escape: \\%c", l.ch), Pos: pos}
		}
		value = esc
		l.readChar()
	} else {
		if l.ch > 0x7F {
			return Token{Type: TokenError, Literal: "non-ASCII character literal", Pos: pos}
		}
		value = byte(l.ch)
		l.readChar()
	}

	if l.ch != '\'' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	l.readChar() // consume closing '

	return Token{Type: TokenCharLit, Literal: string(value), Pos: pos}
}

// unescape maps an escape character to its byte value.
func unescape(r rune) (byte, bool) {
	switch r {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\':
		return '\\', true
	case '\'':
		return '\'', true
	case '"':
		return '"', true
	}
	return 0, false
}

// readNumber reads a decimal or hexadecimal integer literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar() // consume 0
		l.readChar() // consume x
		if !isHexDigit(l.ch) {
			return Token{Type: TokenError, Literal: "malformed hex literal", Pos: pos}
		}
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenIntLit, Literal: l.input[start:l.pos], Pos: pos}
	}

	for isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenIntLit, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier or reserved word.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos

	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	literal := l.input[start:l.pos]
	if tokType, ok := reservedWords[literal]; ok {
		return Token{Type: tokType, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: literal, Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Tokenize returns all tokens from the input, stopping at EOF or the
// first error token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
