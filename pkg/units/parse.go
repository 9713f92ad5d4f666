package units

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse resolves a unit expression such as "kg*m/s^2", "t/ha", "1000 Head"
// or "kWh/(m2*yr)". Whitespace and '·' between terms mean multiplication,
// a trailing integer on an unknown name is an exponent ("m3" is "m^3" when
// m3 is not registered), and numeric terms scale the unit.
func (r *Registry) Parse(expr string) (Unit, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return Unit{}, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	toks, err := tokenize(src)
	if err != nil {
		return Unit{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p := &parser{reg: r, toks: toks, src: src}

	u, err := p.product()
	if err != nil {
		return Unit{}, err
	}

	if p.pos != len(p.toks) {
		return Unit{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, p.toks[p.pos].text, src)
	}

	u.Name = src

	return u, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokMul
	tokDiv
	tokPow
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token

	runes := []rune(src)
	for i := 0; i < len(runes); {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++
		case c == '*' || c == '·' || c == '.':
			toks = append(toks, token{kind: tokMul, text: string(c)})
			i++
		case c == '/':
			toks = append(toks, token{kind: tokDiv, text: "/"})
			i++
		case c == '^':
			toks = append(toks, token{kind: tokPow, text: "^"})
			i++
			if i < len(runes) && (runes[i] == '-' || runes[i] == '+') {
				j := i + 1
				for j < len(runes) && unicode.IsDigit(runes[j]) {
					j++
				}
				toks = append(toks, token{kind: tokNumber, text: string(runes[i:j])})
				i = j
			}
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case unicode.IsDigit(c):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			if j < len(runes) && (runes[j] == 'e' || runes[j] == 'E') && j+1 < len(runes) &&
				(unicode.IsDigit(runes[j+1]) || runes[j+1] == '-' || runes[j+1] == '+') {
				j += 2
				for j < len(runes) && unicode.IsDigit(runes[j]) {
					j++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case isIdentRune(c):
			j := i
			for j < len(runes) && (isIdentRune(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidExpression, c, src)
		}
	}

	return toks, nil
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || c == '_' || c == '$' || c == '%' || c == '€' || c == '°'
}

type parser struct {
	reg  *Registry
	toks []token
	pos  int
	src  string
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}

	return p.toks[p.pos], true
}

func (p *parser) product() (Unit, error) {
	u, err := p.power()
	if err != nil {
		return Unit{}, err
	}

	for {
		tok, ok := p.peek()
		if !ok {
			return u, nil
		}

		switch tok.kind {
		case tokMul:
			p.pos++
			rhs, err := p.power()
			if err != nil {
				return Unit{}, err
			}
			u = u.Mul(rhs)
		case tokDiv:
			p.pos++
			rhs, err := p.power()
			if err != nil {
				return Unit{}, err
			}
			u = u.Div(rhs)
		case tokIdent, tokNumber, tokLParen:
			rhs, err := p.power()
			if err != nil {
				return Unit{}, err
			}
			u = u.Mul(rhs)
		default:
			return u, nil
		}
	}
}

func (p *parser) power() (Unit, error) {
	u, err := p.primary()
	if err != nil {
		return Unit{}, err
	}

	tok, ok := p.peek()
	if !ok || tok.kind != tokPow {
		return u, nil
	}

	p.pos++

	exp, ok := p.peek()
	if !ok || exp.kind != tokNumber {
		return Unit{}, fmt.Errorf("%w: missing exponent in %q", ErrInvalidExpression, p.src)
	}

	p.pos++

	n, err := strconv.Atoi(exp.text)
	if err != nil {
		return Unit{}, fmt.Errorf("%w: exponent %q is not an integer", ErrInvalidExpression, exp.text)
	}

	return u.Pow(n), nil
}

func (p *parser) primary() (Unit, error) {
	tok, ok := p.peek()
	if !ok {
		return Unit{}, fmt.Errorf("%w: unexpected end of %q", ErrInvalidExpression, p.src)
	}

	p.pos++

	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil || v == 0 {
			return Unit{}, fmt.Errorf("%w: invalid scale %q", ErrInvalidExpression, tok.text)
		}

		return Unit{Name: tok.text, Factor: v}, nil
	case tokIdent:
		return p.ident(tok.text)
	case tokLParen:
		u, err := p.product()
		if err != nil {
			return Unit{}, err
		}

		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return Unit{}, fmt.Errorf("%w: unbalanced parenthesis in %q", ErrInvalidExpression, p.src)
		}

		p.pos++

		return u, nil
	default:
		return Unit{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, tok.text, p.src)
	}
}

func (p *parser) ident(name string) (Unit, error) {
	if u, ok := p.reg.lookupLocked(name); ok {
		return u, nil
	}

	// Trailing digits as exponent: "m3", "km2".
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}

	if i > 0 && i < len(name) {
		if u, ok := p.reg.lookupLocked(name[:i]); ok {
			n, _ := strconv.Atoi(name[i:])

			return u.Pow(n), nil
		}
	}

	return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
}
