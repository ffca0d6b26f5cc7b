package scan

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// ParseError points at the offending position in the expression text.
type ParseError struct {
	Text string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at offset %d: %s", e.Text, e.Pos, e.Msg)
}

// Parse reads expression text such as
//
//	close > 4 * @price AND volume_sma_50 > 200000 AND trend_intensity > 0.9
//
// into an expression tree. Keywords AND and OR are case-insensitive; "&&"
// and "||" are accepted as well, and "=" reads as "==".
func Parse(text string) (Expr, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return e, nil
}

// MustParse is Parse for literals in code and tests.
func MustParse(text string) Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

func lex(text string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(text) {
		c := rune(text[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '@':
			start := i
			i++
			for i < len(text) && isIdentRune(rune(text[i])) {
				i++
			}
			if i == start+1 {
				return nil, &ParseError{Text: text, Pos: start, Msg: "parameter name expected after @"}
			}
			tokens = append(tokens, token{tokParam, text[start+1 : i], start})
		case isIdentStart(c):
			start := i
			for i < len(text) && isIdentRune(rune(text[i])) {
				i++
			}
			word := text[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				tokens = append(tokens, token{tokAnd, word, start})
			case "OR":
				tokens = append(tokens, token{tokOr, word, start})
			default:
				tokens = append(tokens, token{tokIdent, word, start})
			}
		case isDigit(c) || (c == '.' && i+1 < len(text) && isDigit(rune(text[i+1]))):
			start := i
			i = scanNumber(text, i)
			tokens = append(tokens, token{tokNumber, text[start:i], start})
		default:
			op, ok := matchOperator(text[i:])
			if !ok {
				return nil, &ParseError{Text: text, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			start := i
			i += len(op)
			switch op {
			case "&&":
				tokens = append(tokens, token{tokAnd, op, start})
			case "||":
				tokens = append(tokens, token{tokOr, op, start})
			case "=":
				tokens = append(tokens, token{tokOp, "==", start})
			default:
				tokens = append(tokens, token{tokOp, op, start})
			}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(text)})
	return tokens, nil
}

var operators = []string{">=", "<=", "==", "!=", "&&", "||", ">", "<", "=", "+", "-", "*", "/"}

func matchOperator(s string) (string, bool) {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	return "", false
}

func scanNumber(text string, i int) int {
	for i < len(text) && (isDigit(rune(text[i])) || text[i] == '.') {
		i++
	}
	if i < len(text) && (text[i] == 'e' || text[i] == 'E') {
		j := i + 1
		if j < len(text) && (text[j] == '+' || text[j] == '-') {
			j++
		}
		if j < len(text) && isDigit(rune(text[j])) {
			for j < len(text) && isDigit(rune(text[j])) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c rune) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c rune) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentRune(c rune) bool  { return isIdentStart(c) || isDigit(c) }

// maxNesting bounds how deep parentheses and unary minus may nest.
const maxNesting = 64

type parser struct {
	text   string
	tokens []token
	pos    int
	depth  int
}

// enter records one more level of nesting at tok.
func (p *parser) enter(tok token) error {
	p.depth++
	if p.depth > maxNesting {
		return p.errorf(tok, "expression nests deeper than %d levels", maxNesting)
	}
	return nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	return &ParseError{Text: p.text, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokOr {
		p.next()
		t, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokAnd {
		p.next()
		t, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return And{Terms: terms}, nil
}

func (p *parser) parseCompare() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.kind != tokOp {
		return left, nil
	}
	var op CompareOp
	switch tok.text {
	case ">", ">=", "<", "<=", "==", "!=":
		op = CompareOp(tok.text)
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if next := p.peek(); next.kind == tokOp && isCompareText(next.text) {
		return nil, p.errorf(next, "chained comparison, use AND")
	}
	return Compare{Op: op, Left: left, Right: right}, nil
}

func isCompareText(s string) bool {
	switch s {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = Arith{Op: ArithOp(tok.text), Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Arith{Op: ArithOp(tok.text), Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	tok := p.peek()
	if tok.kind == tokOp && tok.text == "-" {
		p.next()
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		p.depth--
		if err != nil {
			return nil, err
		}
		if n, ok := operand.(Number); ok {
			return Number{Value: -n.Value}, nil
		}
		return Arith{Op: OpSub, Left: Number{Value: 0}, Right: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.text)
		}
		return Number{Value: v}, nil
	case tokIdent:
		return Column{Name: strings.ToLower(tok.text)}, nil
	case tokParam:
		return Param{Name: strings.ToLower(tok.text)}, nil
	case tokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		p.depth--
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected \")\"")
		}
		return e, nil
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	default:
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
}
