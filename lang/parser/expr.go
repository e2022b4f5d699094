package parser

import (
	"strings"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/lexer"
)

// parseExpr is the entry point for expression parsing. Precedence, lowest
// to highest: when, ||, &&, ??, comparison, +/-, */, unary, postfix.
func (p *Parser) parseExpr() ast.Expr {
	left := p.parseOr()
	if p.at(lexer.KwWhen) {
		start := p.cur()
		p.advance()
		cond := p.parseOr()
		return ast.Guard{Base: ast.Base{Span: p.span(start)}, Value: left, Cond: cond}
	}
	return left
}

func (p *Parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.at(lexer.OrOr) {
		op := p.advance()
		right := p.parseAnd()
		left = ast.BinOp{Base: ast.Base{Span: p.span(op)}, Op: "||", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	left := p.parseCoalesce()
	for p.at(lexer.AndAnd) {
		op := p.advance()
		right := p.parseCoalesce()
		left = ast.BinOp{Base: ast.Base{Span: p.span(op)}, Op: "&&", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseCoalesce() ast.Expr {
	left := p.parseComparison()
	for p.at(lexer.Question2) {
		op := p.advance()
		right := p.parseComparison()
		left = ast.Coalesce{Base: ast.Base{Span: p.span(op)}, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseComparison() ast.Expr {
	left := p.parseAdditive()
	for {
		var op string
		switch p.cur().Kind {
		case lexer.EqEq:
			op = "=="
		case lexer.NotEq:
			op = "!="
		case lexer.Lt:
			op = "<"
		case lexer.Le:
			op = "<="
		case lexer.Gt:
			op = ">"
		case lexer.Ge:
			op = ">="
		default:
			return left
		}
		tok := p.advance()
		right := p.parseAdditive()
		left = ast.BinOp{Base: ast.Base{Span: p.span(tok)}, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.at(lexer.Plus) || p.at(lexer.Minus) {
		tok := p.advance()
		op := "+"
		if tok.Kind == lexer.Minus {
			op = "-"
		}
		right := p.parseMultiplicative()
		if op == "+" {
			left = ast.Merge{Base: ast.Base{Span: p.span(tok)}, Left: left, Right: right}
		} else {
			left = ast.BinOp{Base: ast.Base{Span: p.span(tok)}, Op: op, Left: left, Right: right}
		}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parseUnary()
	for p.at(lexer.Star) || p.at(lexer.Slash) {
		tok := p.advance()
		op := "*"
		if tok.Kind == lexer.Slash {
			op = "/"
		}
		right := p.parseUnary()
		left = ast.BinOp{Base: ast.Base{Span: p.span(tok)}, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	if p.at(lexer.Not) {
		tok := p.advance()
		operand := p.parseUnary()
		return ast.Not{Base: ast.Base{Span: p.span(tok)}, Operand: operand}
	}
	if p.at(lexer.Minus) {
		tok := p.advance()
		operand := p.parseUnary()
		zero := ast.LiteralExpr{Base: ast.Base{Span: p.span(tok)}, Lit: ast.Literal{Kind: ast.LitInt, Int: 0}}
		return ast.BinOp{Base: ast.Base{Span: p.span(tok)}, Op: "-", Left: zero, Right: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()
	for {
		switch {
		case p.at(lexer.Dot):
			tok := p.advance()
			field := ""
			if t, ok := p.expect(lexer.Ident, "field name"); ok {
				field = t.Text
			}
			expr = ast.FieldAccess{Base: ast.Base{Span: p.span(tok)}, Target: expr, Field: field}
		case p.at(lexer.LBracket):
			tok := p.advance()
			var fields []string
			for !p.at(lexer.RBracket) && !p.at(lexer.EOF) {
				if t, ok := p.expect(lexer.Ident, "field name"); ok {
					fields = append(fields, t.Text)
				}
				if p.at(lexer.Comma) {
					p.advance()
					continue
				}
				break
			}
			p.expect(lexer.RBracket, "']'")
			expr = ast.Projection{Base: ast.Base{Span: p.span(tok)}, Target: expr, Fields: fields}
		default:
			return expr
		}
	}
}

func (p *Parser) parsePrimary() ast.Expr {
	t := p.cur()
	switch t.Kind {
	case lexer.Int, lexer.Float, lexer.String, lexer.KwTrue, lexer.KwFalse:
		if t.Kind == lexer.String {
			p.advance()
			return p.parseStringLiteral(t)
		}
		lit := p.parseLiteral()
		return ast.LiteralExpr{Base: ast.Base{Span: lit.Span}, Lit: lit}
	case lexer.LBracket:
		return p.parseListLit()
	case lexer.LBrace:
		return p.parseRecordLit()
	case lexer.LParen:
		p.advance()
		inner := p.parseExpr()
		p.expect(lexer.RParen, "')'")
		return inner
	case lexer.KwIf:
		return p.parseIf()
	case lexer.KwBranch:
		return p.parseBranch()
	case lexer.Ident:
		return p.parseIdentOrCall()
	}
	p.errorf(errors.CodeParseError, errors.SeverityError, "expected expression", p.span(t))
	p.advance()
	return ast.Ident{Base: ast.Base{Span: p.span(t)}, Name: "<error>"}
}

func (p *Parser) parseListLit() ast.Expr {
	start := p.cur()
	p.advance() // [
	var elems []ast.Expr
	for !p.at(lexer.RBracket) && !p.at(lexer.EOF) {
		elems = append(elems, p.parseExpr())
		if p.at(lexer.Comma) {
			p.advance()
			continue
		}
		break
	}
	p.expect(lexer.RBracket, "']'")
	return ast.ListLit{Base: ast.Base{Span: p.span(start)}, Elements: elems}
}

func (p *Parser) parseRecordLit() ast.Expr {
	start := p.cur()
	p.advance() // {
	var fields []ast.RecordField
	for !p.at(lexer.RBrace) && !p.at(lexer.EOF) {
		name := ""
		if t, ok := p.expect(lexer.Ident, "field name"); ok {
			name = t.Text
		}
		p.expect(lexer.Colon, "':'")
		val := p.parseExpr()
		fields = append(fields, ast.RecordField{Name: name, Value: val})
		if p.at(lexer.Comma) {
			p.advance()
			continue
		}
		break
	}
	p.expect(lexer.RBrace, "'}'")
	return ast.RecordLit{Base: ast.Base{Span: p.span(start)}, Fields: fields}
}

func (p *Parser) parseIf() ast.Expr {
	start := p.cur()
	p.advance() // if
	cond := p.parseExpr()
	p.expect(lexer.KwThen, "'then'")
	then := p.parseExpr()
	p.expect(lexer.KwElse, "'else'")
	els := p.parseExpr()
	return ast.If{Base: ast.Base{Span: p.span(start)}, Cond: cond, Then: then, Else: els}
}

func (p *Parser) parseBranch() ast.Expr {
	start := p.cur()
	p.advance() // branch
	var cases []ast.BranchCase
	for p.at(lexer.KwWhen) {
		p.advance()
		cond := p.parseExpr()
		p.expect(lexer.Arrow2, "'=>'")
		then := p.parseExpr()
		cases = append(cases, ast.BranchCase{Cond: cond, Then: then})
	}
	var otherwise ast.Expr
	if p.at(lexer.KwOtherwise) {
		p.advance()
		p.expect(lexer.Arrow2, "'=>'")
		otherwise = p.parseExpr()
	} else {
		p.errorf(errors.CodeParseError, errors.SeverityError, "branch requires an otherwise clause", p.span(p.cur()))
	}
	return ast.Branch{Base: ast.Base{Span: p.span(start)}, Cases: cases, Otherwise: otherwise}
}

// parseIdentOrCall handles a dotted identifier chain, turning it into either
// a module Call (when followed by '(') or a chain of field accesses.
func (p *Parser) parseIdentOrCall() ast.Expr {
	start := p.cur()
	var segments []string
	if t, ok := p.expect(lexer.Ident, "identifier"); ok {
		segments = append(segments, t.Text)
	}
	for p.at(lexer.Dot) {
		save := p.pos
		p.advance()
		if !p.at(lexer.Ident) {
			p.pos = save
			break
		}
		segments = append(segments, p.advance().Text)
		if p.at(lexer.LParen) {
			break
		}
	}
	qualified := strings.Join(segments, ".")

	if p.at(lexer.LParen) {
		p.advance()
		var args []ast.Expr
		for !p.at(lexer.RParen) && !p.at(lexer.EOF) {
			args = append(args, p.parseExpr())
			if p.at(lexer.Comma) {
				p.advance()
				continue
			}
			break
		}
		p.expect(lexer.RParen, "')'")
		var opts []ast.Option
		if p.at(lexer.KwWith) {
			opts = p.parseWithClause()
		}
		return ast.Call{Base: ast.Base{Span: p.span(start)}, Qualified: qualified, Args: args, Options: opts}
	}

	var expr ast.Expr = ast.Ident{Base: ast.Base{Span: p.span(start)}, Name: segments[0]}
	for _, seg := range segments[1:] {
		expr = ast.FieldAccess{Base: ast.Base{Span: p.span(start)}, Target: expr, Field: seg}
	}
	return expr
}

func (p *Parser) parseWithClause() []ast.Option {
	p.advance() // with
	var opts []ast.Option
	for {
		start := p.cur()
		name := ""
		if t, ok := p.expect(lexer.Ident, "option name"); ok {
			name = t.Text
		}
		p.expect(lexer.Colon, "':'")
		val := p.parseExpr()
		opts = append(opts, ast.Option{Span: p.span(start), Name: name, Value: val})
		if p.at(lexer.Comma) {
			p.advance()
			continue
		}
		break
	}
	return opts
}

// parseStringLiteral turns a scanned string token into either a plain
// LiteralExpr or, when it contains "${...}" segments, an Interpolation
// whose embedded expressions are parsed by recursing the parser over the
// substring between the braces.
func (p *Parser) parseStringLiteral(t lexer.Token) ast.Expr {
	text := t.Text
	if !strings.Contains(text, "${") {
		return ast.LiteralExpr{Base: ast.Base{Span: p.span(t)}, Lit: ast.Literal{Span: p.span(t), Kind: ast.LitString, Str: text}}
	}

	var parts []ast.InterpPart
	rest := text
	for {
		idx := strings.Index(rest, "${")
		if idx < 0 {
			if rest != "" {
				parts = append(parts, ast.InterpPart{Literal: rest})
			}
			break
		}
		if idx > 0 {
			parts = append(parts, ast.InterpPart{Literal: rest[:idx]})
		}
		rest = rest[idx+2:]
		end := strings.Index(rest, "}")
		if end < 0 {
			p.errorf(errors.CodeParseError, errors.SeverityError, "unterminated interpolation expression", p.span(t))
			break
		}
		sub := rest[:end]
		rest = rest[end+1:]
		exprNode := parseSubExpr(sub, t.Start, p)
		parts = append(parts, ast.InterpPart{Expr: exprNode})
	}
	return ast.Interpolation{Base: ast.Base{Span: p.span(t)}, Parts: parts}
}

// parseSubExpr parses a standalone expression found inside a string
// interpolation, offsetting spans by base so diagnostics still point at the
// right place in the original source.
func parseSubExpr(src string, base int, outer *Parser) ast.Expr {
	l := lexer.New(src)
	var toks []lexer.Token
	for {
		tok := l.Next()
		tok.Start += base
		toks = append(toks, tok)
		if tok.Kind == lexer.EOF {
			break
		}
	}
	sub := &Parser{toks: toks}
	expr := sub.parseExpr()
	outer.diagnostics = append(outer.diagnostics, sub.diagnostics...)
	return expr
}
