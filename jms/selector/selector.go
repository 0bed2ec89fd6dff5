// Package selector implements message selectors: the conditional
// expression subset of SQL-92 evaluated against message headers and
// properties.
package selector

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

type Selector struct {
	src  string
	root node
}

// Parses a selector.  An empty selector yields nil, which matches every
// message.
func Parse(src string) (*Selector, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if toks[0].kind == tokEOF {
		return nil, nil
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("Unexpected token [%v]", p.peek().text)
	}
	return &Selector{src, root}, nil
}

func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return s.src
}

// Evaluates the selector against an arbitrary lookup.  Unknown results
// do not match.
func (s *Selector) MatchesLookup(lookup func(string) interface{}) bool {
	if s == nil {
		return true
	}
	ret, ok := s.root.eval(lookup).(bool)
	return ok && ret
}

// Evaluates the selector against the message's headers and properties.
func (s *Selector) Matches(msg jms.Message) bool {
	return s.MatchesLookup(func(name string) interface{} {
		return Lookup(msg, name)
	})
}

// Returns the value of a selector identifier for the message.
func Lookup(msg jms.Message, name string) interface{} {
	switch name {
	case "JMSDeliveryMode":
		if msg.DeliveryMode() == jms.Persistent {
			return "PERSISTENT"
		}
		return "NON_PERSISTENT"
	case "JMSPriority":
		return int64(msg.Priority())
	case "JMSMessageID":
		return nilIfEmpty(msg.MessageID())
	case "JMSTimestamp":
		if msg.Timestamp().IsZero() {
			return nil
		}
		return msg.Timestamp().UnixNano() / 1e6
	case "JMSCorrelationID":
		return nilIfEmpty(msg.CorrelationID())
	case "JMSType":
		return nilIfEmpty(msg.Type())
	}

	val, _ := msg.ObjectProperty(name)
	return val
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type parser struct {
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

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokKeyword && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) op(op string) bool {
	t := p.peek()
	if t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errors.Wrapf(jms.InvalidSelectorError, "At [%v]: "+format, append([]interface{}{p.peek().pos}, args...)...)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = or{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = and{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.keyword("NOT") {
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return not{expr}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "=", "<>", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return compare{t.text, left, right}, nil
		}
	}

	if p.keyword("IS") {
		negate := p.keyword("NOT")
		if !p.keyword("NULL") {
			return nil, p.errorf("Expected NULL")
		}
		return isNull{left, negate}, nil
	}

	negate := p.keyword("NOT")
	switch {
	case p.keyword("LIKE"):
		return p.parseLike(left, negate)
	case p.keyword("IN"):
		return p.parseIn(left, negate)
	case p.keyword("BETWEEN"):
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, p.errorf("Expected AND")
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return between{left, low, high, negate}, nil
	}

	if negate {
		return nil, p.errorf("Expected LIKE, IN or BETWEEN")
	}
	return left, nil
}

func (p *parser) parseLike(left node, negate bool) (node, error) {
	pattern := p.next()
	if pattern.kind != tokString {
		return nil, p.errorf("Expected pattern string")
	}

	var escape rune
	hasEscape := false
	if p.keyword("ESCAPE") {
		esc := p.next()
		runes := []rune(esc.text)
		if esc.kind != tokString || len(runes) != 1 {
			return nil, p.errorf("Escape must be a single character")
		}
		escape, hasEscape = runes[0], true
	}

	re, err := compileLike(pattern.text, escape, hasEscape)
	if err != nil {
		return nil, errors.Wrapf(jms.InvalidSelectorError, "Invalid pattern [%v]", pattern.text)
	}
	return like{left, re, negate}, nil
}

func (p *parser) parseIn(left node, negate bool) (node, error) {
	if !p.op("(") {
		return nil, p.errorf("Expected (")
	}

	set := make([]string, 0, 4)
	for {
		t := p.next()
		if t.kind != tokString {
			return nil, p.errorf("Expected string literal")
		}
		set = append(set, t.text)
		if p.op(")") {
			break
		}
		if !p.op(",") {
			return nil, p.errorf("Expected , or )")
		}
	}
	return in{left, set, negate}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = arith{t.text, left, right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = arith{t.text, left, right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.op("-") {
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negate{expr}, nil
	}
	if p.op("+") {
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return ident{t.text}, nil
	case tokString:
		return literal{t.text}, nil
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(jms.InvalidSelectorError, "Invalid integer [%v]", t.text)
		}
		return literal{v}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errors.Wrapf(jms.InvalidSelectorError, "Invalid number [%v]", t.text)
		}
		return literal{v}, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return literal{true}, nil
		case "FALSE":
			return literal{false}, nil
		case "NULL":
			return literal{nil}, nil
		}
	case tokOp:
		if t.text == "(" {
			expr, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.op(")") {
				return nil, p.errorf("Expected )")
			}
			return expr, nil
		}
	}
	if t.kind != tokEOF {
		p.pos--
	}
	return nil, p.errorf("Unexpected token [%v]", t.text)
}
