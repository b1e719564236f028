package query

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	pos  int
	text string
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of query"
	}
	return "'" + t.text + "'"
}

var keywords = map[string]tokenKind{
	"true":  tokTrue,
	"false": tokFalse,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, pos: i, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, pos: i, text: ")"})
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			kind, ok := keywords[strings.ToLower(word)]
			if !ok {
				return nil, &SyntaxError{Query: src, Pos: start, Message: "unknown identifier '" + word + "'"}
			}
			toks = append(toks, token{kind: kind, pos: start, text: word})
		default:
			return nil, &SyntaxError{Query: src, Pos: i, Message: "unexpected character '" + string(r) + "'"}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

// parser is a recursive-descent evaluator:
//
//	or      = and { "or" and }
//	and     = unary { "and" unary }
//	unary   = "not" unary | primary
//	primary = "true" | "false" | "(" or ")"
type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, msg string, args ...any) error {
	return &SyntaxError{Query: p.src, Pos: t.pos, Message: fmt.Sprintf(msg, args...)}
}

func (p *parser) parseOr(depth int) (bool, error) {
	left, err := p.parseAnd(depth)
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd(depth)
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) parseAnd(depth int) (bool, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) parseUnary(depth int) (bool, error) {
	if depth > maxDepth {
		return false, &SyntaxError{Query: p.src, Pos: p.peek().pos, Message: "nesting too deep"}
	}
	if p.peek().kind == tokNot {
		p.next()
		v, err := p.parseUnary(depth + 1)
		return !v, err
	}
	return p.parsePrimary(depth)
}

func (p *parser) parsePrimary(depth int) (bool, error) {
	t := p.next()
	switch t.kind {
	case tokTrue:
		return true, nil
	case tokFalse:
		return false, nil
	case tokLParen:
		v, err := p.parseOr(depth + 1)
		if err != nil {
			return false, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return false, p.errorf(closing, "expected ')' but found %s", closing)
		}
		return v, nil
	default:
		return false, p.errorf(t, "expected operand but found %s", t)
	}
}
