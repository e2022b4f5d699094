// Package parser implements a hand-written recursive-descent parser for
// the pipeline language. It never panics on malformed input: errors are
// collected as diagnostics with a best-effort recovery token so a single
// compile can report more than one syntax error.
package parser

import (
	"fmt"
	"strings"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/lexer"
)

// Parser turns a token stream into an ast.Pipeline, accumulating
// diagnostics instead of stopping at the first error.
type Parser struct {
	toks        []lexer.Token
	pos         int
	diagnostics []errors.Diagnostic
}

// Parse lexes and parses src, returning the parsed pipeline (possibly
// partial) and any diagnostics collected along the way.
func Parse(src string) (*ast.Pipeline, []errors.Diagnostic) {
	l := lexer.New(src)
	var toks []lexer.Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == lexer.EOF {
			break
		}
	}
	p := &Parser{toks: toks}
	pipeline := p.parsePipeline()
	return pipeline, p.diagnostics
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) at(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(k lexer.Kind, what string) (lexer.Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	p.errorf(errors.CodeUnexpectedToken, errors.SeverityError,
		fmt.Sprintf("expected %s, got %q", what, p.cur().Text), p.span(p.cur()))
	return p.cur(), false
}

func (p *Parser) span(t lexer.Token) errors.Span {
	return errors.Span{Start: t.Start, Length: t.Length}
}

func (p *Parser) errorf(code errors.Code, sev errors.Severity, msg string, span errors.Span) {
	p.diagnostics = append(p.diagnostics, errors.NewDiagnostic(code, sev, msg, span))
}

// synchronize skips tokens until a likely declaration boundary, so one bad
// statement does not cascade into spurious follow-on errors.
func (p *Parser) synchronize() {
	for !p.at(lexer.EOF) {
		switch p.cur().Kind {
		case lexer.KwUse, lexer.KwType, lexer.KwIn, lexer.KwOut, lexer.Ident:
			return
		}
		p.advance()
	}
}

func (p *Parser) parsePipeline() *ast.Pipeline {
	pipeline := &ast.Pipeline{}
	for !p.at(lexer.EOF) {
		before := p.pos
		switch p.cur().Kind {
		case lexer.KwUse:
			pipeline.Uses = append(pipeline.Uses, p.parseUse())
		case lexer.KwType:
			pipeline.Types = append(pipeline.Types, p.parseTypeDef())
		case lexer.KwIn:
			pipeline.Inputs = append(pipeline.Inputs, p.parseInputDecl())
		case lexer.KwOut:
			pipeline.Outputs = append(pipeline.Outputs, p.parseOutputDecl())
		case lexer.Ident:
			pipeline.Assigns = append(pipeline.Assigns, p.parseAssignment())
		default:
			p.errorf(errors.CodeParseError, errors.SeverityError,
				fmt.Sprintf("unexpected token %q at top level", p.cur().Text), p.span(p.cur()))
			p.advance()
			p.synchronize()
		}
		if p.pos == before {
			p.advance()
		}
	}
	return pipeline
}

func (p *Parser) parseUse() *ast.Use {
	start := p.cur()
	p.advance() // 'use'
	name := p.parseQualifiedName()
	alias := ""
	if p.at(lexer.KwAs) {
		p.advance()
		if t, ok := p.expect(lexer.Ident, "identifier"); ok {
			alias = t.Text
		}
	}
	return &ast.Use{Span: p.span(start), Namespace: name, Alias: alias}
}

func (p *Parser) parseQualifiedName() string {
	var parts []string
	if t, ok := p.expect(lexer.Ident, "identifier"); ok {
		parts = append(parts, t.Text)
	}
	for p.at(lexer.Dot) {
		p.advance()
		if t, ok := p.expect(lexer.Ident, "identifier"); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, ".")
}

func (p *Parser) parseTypeDef() *ast.TypeDef {
	start := p.cur()
	p.advance() // 'type'
	name := ""
	if t, ok := p.expect(lexer.Ident, "identifier"); ok {
		name = t.Text
	}
	p.expect(lexer.Assign, "'='")
	expr := p.parseTypeExpr()
	return &ast.TypeDef{Span: p.span(start), Name: name, Expr: expr}
}

func (p *Parser) parseInputDecl() *ast.InputDecl {
	start := p.cur()
	p.advance() // 'in'
	name := ""
	if t, ok := p.expect(lexer.Ident, "identifier"); ok {
		name = t.Text
	}
	p.expect(lexer.Colon, "':'")
	typ := p.parseTypeExpr()
	decl := &ast.InputDecl{Span: p.span(start), Name: name, Type: typ}
	for p.at(lexer.At) {
		p.advance()
		p.expect(lexer.Ident, "'example'") // consumes "example"
		p.expect(lexer.LParen, "'('")
		decl.Examples = append(decl.Examples, p.parseLiteral())
		p.expect(lexer.RParen, "')'")
	}
	return decl
}

func (p *Parser) parseOutputDecl() *ast.OutputDecl {
	start := p.cur()
	p.advance() // 'out'
	name := ""
	if t, ok := p.expect(lexer.Ident, "identifier"); ok {
		name = t.Text
	}
	return &ast.OutputDecl{Span: p.span(start), Name: name}
}

func (p *Parser) parseAssignment() *ast.Assignment {
	start := p.cur()
	name := p.advance().Text
	p.expect(lexer.Assign, "'='")
	expr := p.parseExpr()
	return &ast.Assignment{Span: p.span(start), Name: name, Expr: expr}
}

// --- type expressions ---

func (p *Parser) parseTypeExpr() ast.TypeExpr {
	left := p.parseTypeAtom()
	for p.at(lexer.Pipe) {
		start := p.cur()
		p.advance()
		right := p.parseTypeAtom()
		if u, ok := left.(ast.TUnion); ok {
			u.Members = append(u.Members, right)
			left = u
		} else {
			left = ast.TUnion{Span: p.span(start), Members: []ast.TypeExpr{left, right}}
		}
	}
	return left
}

func (p *Parser) parseTypeAtom() ast.TypeExpr {
	t := p.cur()
	switch t.Kind {
	case lexer.LBrace:
		return p.parseRecordType()
	case lexer.Ident:
		switch t.Text {
		case "String":
			p.advance()
			return ast.TString{Span: p.span(t)}
		case "Int":
			p.advance()
			return ast.TInt{Span: p.span(t)}
		case "Float":
			p.advance()
			return ast.TFloat{Span: p.span(t)}
		case "Boolean":
			p.advance()
			return ast.TBool{Span: p.span(t)}
		case "List":
			p.advance()
			p.expect(lexer.Lt, "'<'")
			elem := p.parseTypeExpr()
			p.expect(lexer.Gt, "'>'")
			return ast.TList{Span: p.span(t), Elem: elem}
		case "Map":
			p.advance()
			p.expect(lexer.Lt, "'<'")
			key := p.parseTypeExpr()
			p.expect(lexer.Comma, "','")
			val := p.parseTypeExpr()
			p.expect(lexer.Gt, "'>'")
			return ast.TMap{Span: p.span(t), Key: key, Value: val}
		case "Optional":
			p.advance()
			p.expect(lexer.Lt, "'<'")
			elem := p.parseTypeExpr()
			p.expect(lexer.Gt, "'>'")
			return ast.TOptional{Span: p.span(t), Elem: elem}
		default:
			p.advance()
			return ast.TRef{Span: p.span(t), Name: t.Text}
		}
	}
	p.errorf(errors.CodeParseError, errors.SeverityError, "expected type expression", p.span(t))
	p.advance()
	return ast.TRef{Span: p.span(t), Name: "<error>"}
}

func (p *Parser) parseRecordType() ast.TypeExpr {
	start := p.cur()
	p.advance() // {
	var fields []ast.TRecordField
	for !p.at(lexer.RBrace) && !p.at(lexer.EOF) {
		name := ""
		if t, ok := p.expect(lexer.Ident, "field name"); ok {
			name = t.Text
		}
		p.expect(lexer.Colon, "':'")
		ft := p.parseTypeExpr()
		fields = append(fields, ast.TRecordField{Name: name, Type: ft})
		if p.at(lexer.Comma) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RBrace, "'}'")
	return ast.TRecord{Span: p.span(start), Fields: fields}
}

func (p *Parser) parseLiteral() ast.Literal {
	t := p.cur()
	switch t.Kind {
	case lexer.String:
		p.advance()
		return ast.Literal{Span: p.span(t), Kind: ast.LitString, Str: t.Text}
	case lexer.Int:
		p.advance()
		return ast.Literal{Span: p.span(t), Kind: ast.LitInt, Int: t.IntVal}
	case lexer.Float:
		p.advance()
		return ast.Literal{Span: p.span(t), Kind: ast.LitFloat, Flt: t.FltVal}
	case lexer.KwTrue:
		p.advance()
		return ast.Literal{Span: p.span(t), Kind: ast.LitBool, Bool: true}
	case lexer.KwFalse:
		p.advance()
		return ast.Literal{Span: p.span(t), Kind: ast.LitBool, Bool: false}
	}
	p.errorf(errors.CodeParseError, errors.SeverityError, "expected literal", p.span(t))
	p.advance()
	return ast.Literal{Span: p.span(t)}
}
