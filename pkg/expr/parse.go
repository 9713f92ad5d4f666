package expr

import (
	"strconv"
	"unicode"
)

// Parse parses an arithmetic expression. Identifiers start with a letter
// or underscore and may contain digits, '_' and '.', so hierarchical names
// like "Farm.Wheat.yield" are single identifiers.
func Parse(src string) (Node, error) {
	p := &parser{src: []rune(src)}

	n, err := p.sum()
	if err != nil {
		return nil, err
	}

	p.skip()

	if p.pos < len(p.src) {
		return nil, errorf(ErrSyntax, "unexpected %q at offset %d in %q", p.src[p.pos], p.pos, src)
	}

	return n, nil
}

// MustParse is Parse that panics.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}

	return n
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) skip() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) accept(r rune) bool {
	p.skip()

	if p.pos < len(p.src) && p.src[p.pos] == r {
		p.pos++
		return true
	}

	return false
}

func (p *parser) sum() (Node, error) {
	n, err := p.term()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.accept('+'):
			r, err := p.term()
			if err != nil {
				return nil, err
			}
			n = Binary{Op: '+', L: n, R: r}
		case p.accept('-'):
			r, err := p.term()
			if err != nil {
				return nil, err
			}
			n = Binary{Op: '-', L: n, R: r}
		default:
			return n, nil
		}
	}
}

func (p *parser) term() (Node, error) {
	n, err := p.unary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.accept('*'):
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			n = Binary{Op: '*', L: n, R: r}
		case p.accept('/'):
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			n = Binary{Op: '/', L: n, R: r}
		default:
			return n, nil
		}
	}
}

func (p *parser) unary() (Node, error) {
	if p.accept('-') {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}

		return Unary{Op: '-', X: x}, nil
	}

	p.accept('+')

	return p.power()
}

func (p *parser) power() (Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}

	if p.accept('^') {
		// Right associative: 2^3^2 is 2^(3^2).
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}

		return Binary{Op: '^', L: base, R: exp}, nil
	}

	return base, nil
}

func (p *parser) primary() (Node, error) {
	p.skip()

	if p.pos >= len(p.src) {
		return nil, errorf(ErrSyntax, "unexpected end of %q", string(p.src))
	}

	c := p.src[p.pos]

	switch {
	case c == '(':
		p.pos++

		n, err := p.sum()
		if err != nil {
			return nil, err
		}

		if !p.accept(')') {
			return nil, errorf(ErrSyntax, "missing ')' in %q", string(p.src))
		}

		return n, nil
	case unicode.IsDigit(c) || c == '.':
		return p.number()
	case unicode.IsLetter(c) || c == '_':
		return p.identOrCall()
	default:
		return nil, errorf(ErrSyntax, "unexpected %q at offset %d in %q", c, p.pos, string(p.src))
	}
}

func (p *parser) number() (Node, error) {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}

	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		j := p.pos + 1
		if j < len(p.src) && (p.src[j] == '-' || p.src[j] == '+') {
			j++
		}

		if j < len(p.src) && unicode.IsDigit(p.src[j]) {
			for j < len(p.src) && unicode.IsDigit(p.src[j]) {
				j++
			}
			p.pos = j
		}
	}

	text := string(p.src[start:p.pos])

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errorf(ErrSyntax, "invalid number %q", text)
	}

	return Number{Value: v}, nil
}

func (p *parser) identOrCall() (Node, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' && c != '.' {
			break
		}
		p.pos++
	}

	name := string(p.src[start:p.pos])

	if !p.accept('(') {
		return Ident{Name: name}, nil
	}

	var args []Node

	if p.accept(')') {
		return Call{Fn: name, Args: args}, nil
	}

	for {
		a, err := p.sum()
		if err != nil {
			return nil, err
		}

		args = append(args, a)

		if p.accept(',') {
			continue
		}

		if p.accept(')') {
			return Call{Fn: name, Args: args}, nil
		}

		return nil, errorf(ErrSyntax, "expected ',' or ')' in call to %s", name)
	}
}
