package compiler

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for the C subset
// ---------------------------------------------------------------------------
//
// One production per grammar rule, precedence climbing for binary
// expressions. The parser stops at the first grammar violation with a
// SyntaxError; there is no error recovery and no partial output.

// Parser parses source text into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new parser for the given input.
func NewParser(input string) (*Parser, error) {
	p := &Parser{lexer: NewLexer(input)}
	// Fill curToken and peekToken.
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse parses a complete compilation unit.
func Parse(input string) (*SourceFile, error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	return p.ParseSourceFile()
}

// nextToken advances to the next token, surfacing lexer failures.
func (p *Parser) nextToken() error {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.peekToken.Type == TokenError {
		return &LexError{Pos: p.peekToken.Pos, Reason: p.peekToken.Literal}
	}
	return nil
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect consumes the current token if it matches, or fails.
func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.curToken
	if tok.Type != t {
		return tok, p.syntaxError(t.String())
	}
	if err := p.nextToken(); err != nil {
		return tok, err
	}
	return tok, nil
}

// syntaxError builds a SyntaxError at the current token.
func (p *Parser) syntaxError(expected string) error {
	return &SyntaxError{
		Pos:      p.curToken.Pos,
		Expected: expected,
		Found:    p.curToken.String(),
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseSourceFile parses the whole input.
func (p *Parser) ParseSourceFile() (*SourceFile, error) {
	file := &SourceFile{PosVal: p.curToken.Pos}

	for !p.curTokenIs(TokenEOF) {
		if !p.curToken.Type.IsTypeKeyword() {
			return nil, p.syntaxError("declaration")
		}

		// A struct type definition: struct Name { ... };
		if p.curTokenIs(TokenStruct) {
			sd, decl, err := p.parseStructOrType(file)
			if err != nil {
				return nil, err
			}
			if sd != nil {
				file.Structs = append(file.Structs, sd)
				continue
			}
			// Fall through with the parsed struct type as a declaration base.
			if err := p.parseTopDecl(file, decl); err != nil {
				return nil, err
			}
			continue
		}

		base, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.parseTopDecl(file, base); err != nil {
			return nil, err
		}
	}

	return file, nil
}

// parseStructOrType handles a leading "struct" keyword at top level:
// either a struct definition (returned as *StructDecl) or a struct-typed
// declaration base (returned as *Type).
func (p *Parser) parseStructOrType(file *SourceFile) (*StructDecl, *Type, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil { // consume struct
		return nil, nil, err
	}
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, nil, err
	}

	if !p.curTokenIs(TokenLBrace) {
		// Type use: struct Name <declarator>
		t := &Type{Kind: TypeStruct, Name: nameTok.Literal}
		t, err = p.parsePointerSuffix(t)
		if err != nil {
			return nil, nil, err
		}
		return nil, t, nil
	}

	// Definition body.
	if err := p.nextToken(); err != nil { // consume {
		return nil, nil, err
	}
	sd := &StructDecl{PosVal: pos, Name: nameTok.Literal}
	for !p.curTokenIs(TokenRBrace) {
		ft, err := p.parseType()
		if err != nil {
			return nil, nil, err
		}
		fname, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, nil, err
		}
		ft, err = p.parseArraySuffix(ft)
		if err != nil {
			return nil, nil, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, nil, err
		}
		sd.Fields = append(sd.Fields, Param{Name: fname.Literal, Type: ft, Pos: fname.Pos})
	}
	if err := p.nextToken(); err != nil { // consume }
		return nil, nil, err
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, nil, err
	}
	return sd, nil, nil
}

// parseTopDecl parses a function or global variable declaration whose base
// type has already been consumed.
func (p *Parser) parseTopDecl(file *SourceFile, base *Type) error {
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return err
	}

	if p.curTokenIs(TokenLParen) {
		fn, err := p.parseFuncRest(nameTok, base)
		if err != nil {
			return err
		}
		file.Funcs = append(file.Funcs, fn)
		return nil
	}

	// Global variable.
	t, err := p.parseArraySuffix(base)
	if err != nil {
		return err
	}
	decl := &VarDecl{PosVal: nameTok.Pos, Name: nameTok.Literal, Type: t}
	if p.curTokenIs(TokenAssign) {
		if err := p.nextToken(); err != nil {
			return err
		}
		init, err := p.parseExpression()
		if err != nil {
			return err
		}
		decl.Init = init
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return err
	}
	file.Globals = append(file.Globals, decl)
	return nil
}

// parseFuncRest parses "(params) ;|{body}" after the function name.
func (p *Parser) parseFuncRest(nameTok Token, ret *Type) (*FuncDecl, error) {
	fn := &FuncDecl{PosVal: nameTok.Pos, Name: nameTok.Literal, Ret: ret}

	if err := p.nextToken(); err != nil { // consume (
		return nil, err
	}

	// Parameter list: empty, "void", or comma-separated typed names.
	if p.curTokenIs(TokenVoid) && p.peekTokenIs(TokenRParen) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}
	for !p.curTokenIs(TokenRParen) {
		pt, err := p.parseType()
		if err != nil {
			return nil, err
		}
		pn, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		// Array parameters decay to pointers.
		if p.curTokenIs(TokenLBracket) {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			pt = PointerTo(pt)
		}
		fn.Params = append(fn.Params, Param{Name: pn.Literal, Type: pt, Pos: pn.Pos})
		if p.curTokenIs(TokenComma) {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	// Forward declaration.
	if p.curTokenIs(TokenSemicolon) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		return fn, nil
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// parseType parses a base type with pointer suffixes:
// ("int" | "char" | "void" | "struct" IDENT) "*"*
func (p *Parser) parseType() (*Type, error) {
	var t *Type
	switch p.curToken.Type {
	case TokenInt:
		t = Int
	case TokenChar:
		t = Char
	case TokenVoid:
		t = Void
	case TokenStruct:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		nameTok := p.curToken
		if nameTok.Type != TokenIdentifier {
			return nil, p.syntaxError("struct name")
		}
		t = &Type{Kind: TypeStruct, Name: nameTok.Literal}
	default:
		return nil, p.syntaxError("type")
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	return p.parsePointerSuffix(t)
}

// parsePointerSuffix consumes trailing '*' tokens.
func (p *Parser) parsePointerSuffix(t *Type) (*Type, error) {
	for p.curTokenIs(TokenStar) {
		t = PointerTo(t)
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// parseArraySuffix consumes an optional "[N]" suffix after a declarator.
func (p *Parser) parseArraySuffix(t *Type) (*Type, error) {
	if !p.curTokenIs(TokenLBracket) {
		return t, nil
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	lenTok, err := p.expect(TokenIntLit)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(lenTok.Literal, 0, 64)
	if err != nil || n <= 0 {
		return nil, &SyntaxError{Pos: lenTok.Pos, Expected: "positive array length", Found: lenTok.Literal}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return ArrayOf(t, n), nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseBlock parses "{" stmts "}".
func (p *Parser) parseBlock() (*BlockStmt, error) {
	pos := p.curToken.Pos
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	block := &BlockStmt{PosVal: pos}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			return nil, p.syntaxError("}")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, stmt)
	}
	if err := p.nextToken(); err != nil { // consume }
		return nil, err
	}
	return block, nil
}

// parseStatement parses one statement.
func (p *Parser) parseStatement() (Stmt, error) {
	switch p.curToken.Type {
	case TokenLBrace:
		return p.parseBlock()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenReturn:
		return p.parseReturn()
	case TokenInt, TokenChar, TokenVoid, TokenStruct:
		return p.parseDeclStmt()
	default:
		return p.parseExprStmt()
	}
}

// parseDeclStmt parses a local declaration: Type name [N]? (= expr)? ;
func (p *Parser) parseDeclStmt() (Stmt, error) {
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	t, err = p.parseArraySuffix(t)
	if err != nil {
		return nil, err
	}
	decl := &DeclStmt{PosVal: nameTok.Pos, Name: nameTok.Literal, Type: t}
	if p.curTokenIs(TokenAssign) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		init, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		decl.Init = init
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return decl, nil
}

// parseIf parses if (cond) stmt (else stmt)?
func (p *Parser) parseIf() (Stmt, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil { // consume if
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{PosVal: pos, Cond: cond, Then: then}
	if p.curTokenIs(TokenElse) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		els, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

// parseWhile parses while (cond) stmt
func (p *Parser) parseWhile() (Stmt, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil { // consume while
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{PosVal: pos, Cond: cond, Body: body}, nil
}

// parseReturn parses return expr? ;
func (p *Parser) parseReturn() (Stmt, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil { // consume return
		return nil, err
	}
	stmt := &ReturnStmt{PosVal: pos}
	if !p.curTokenIs(TokenSemicolon) {
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Value = value
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseExprStmt parses expr ;
func (p *Parser) parseExprStmt() (Stmt, error) {
	pos := p.curToken.Pos
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return &ExprStmt{PosVal: pos, Expr: expr}, nil
}

// ---------------------------------------------------------------------------
// Expressions (precedence climbing)
// ---------------------------------------------------------------------------

// parseExpression parses a full expression; assignment binds loosest and
// associates to the right.
func (p *Parser) parseExpression() (Expr, error) {
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenAssign) {
		return left, nil
	}

	if !isLvalue(left) {
		return nil, &SyntaxError{Pos: left.Pos(), Expected: "assignable expression", Found: "expression"}
	}
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil { // consume =
		return nil, err
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &Assign{PosVal: pos, Target: left, Value: value}, nil
}

// isLvalue reports whether the expression denotes a storage location.
func isLvalue(e Expr) bool {
	switch e := e.(type) {
	case *Ident, *Index, *Field:
		return true
	case *Unary:
		return e.Op == TokenStar
	}
	return false
}

func (p *Parser) parseLogicalOr() (Expr, error) {
	return p.parseBinaryChain(p.parseLogicalAnd, TokenOrOr)
}

func (p *Parser) parseLogicalAnd() (Expr, error) {
	return p.parseBinaryChain(p.parseEquality, TokenAndAnd)
}

func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinaryChain(p.parseRelational, TokenEq, TokenNe)
}

func (p *Parser) parseRelational() (Expr, error) {
	return p.parseBinaryChain(p.parseAdditive, TokenLt, TokenLe, TokenGt, TokenGe)
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryChain(p.parseMultiplicative, TokenPlus, TokenMinus)
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryChain(p.parseUnary, TokenStar, TokenSlash, TokenPercent)
}

// parseBinaryChain parses a left-associative run of operators at one
// precedence level.
func (p *Parser) parseBinaryChain(next func() (Expr, error), ops ...TokenType) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.curTokenIs(op) {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		op := p.curToken.Type
		pos := p.curToken.Pos
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Binary{PosVal: pos, Op: op, Left: left, Right: right}
	}
}

// parseUnary parses prefix operators, casts and sizeof.
func (p *Parser) parseUnary() (Expr, error) {
	switch p.curToken.Type {
	case TokenMinus, TokenBang, TokenStar, TokenAmp:
		pos := p.curToken.Pos
		op := p.curToken.Type
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{PosVal: pos, Op: op, Operand: operand}, nil

	case TokenSizeof:
		pos := p.curToken.Pos
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		t, err = p.parseArraySuffix(t)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &SizeofExpr{PosVal: pos, Type: t}, nil

	case TokenLParen:
		// Cast: '(' begins a cast only when followed by a type keyword.
		if p.peekToken.Type.IsTypeKeyword() {
			pos := p.curToken.Pos
			if err := p.nextToken(); err != nil { // consume (
				return nil, err
			}
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
			operand, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &Cast{PosVal: pos, Type: t, Value: operand}, nil
		}
		return p.parsePostfix()
	}

	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by call, index and
// field-access suffixes.
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.curToken.Type {
		case TokenLParen:
			ident, ok := expr.(*Ident)
			if !ok {
				return nil, &SyntaxError{Pos: p.curToken.Pos, Expected: "function name before call", Found: "expression"}
			}
			call := &Call{PosVal: ident.PosVal, Name: ident.Name}
			if err := p.nextToken(); err != nil { // consume (
				return nil, err
			}
			for !p.curTokenIs(TokenRParen) {
				arg, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.curTokenIs(TokenComma) {
					if err := p.nextToken(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
			expr = call

		case TokenLBracket:
			pos := p.curToken.Pos
			if err := p.nextToken(); err != nil { // consume [
				return nil, err
			}
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			expr = &Index{PosVal: pos, Base: expr, Idx: idx}

		case TokenDot, TokenArrow:
			arrow := p.curTokenIs(TokenArrow)
			pos := p.curToken.Pos
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			nameTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			expr = &Field{PosVal: pos, Base: expr, Name: nameTok.Literal, Arrow: arrow}

		default:
			return expr, nil
		}
	}
}

// parsePrimary parses literals, identifiers and parenthesized expressions.
func (p *Parser) parsePrimary() (Expr, error) {
	switch p.curToken.Type {
	case TokenIntLit:
		tok := p.curToken
		value, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Expected: "integer literal", Found: tok.Literal}
		}
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		return &IntLit{PosVal: tok.Pos, Value: value}, nil

	case TokenCharLit:
		tok := p.curToken
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		return &CharLit{PosVal: tok.Pos, Value: tok.Literal[0]}, nil

	case TokenStringLit:
		tok := p.curToken
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		return &StringLit{PosVal: tok.Pos, Value: tok.Literal}, nil

	case TokenIdentifier:
		tok := p.curToken
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		return &Ident{PosVal: tok.Pos, Name: tok.Literal}, nil

	case TokenLParen:
		if err := p.nextToken(); err != nil { // consume (
			return nil, err
		}
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil
	}

	return nil, p.syntaxError("expression")
}
