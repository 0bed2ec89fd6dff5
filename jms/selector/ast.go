package selector

import (
	"regexp"
	"strings"
)

// Values produced during evaluation are nil (unknown), bool, int64,
// float64 or string.
type node interface {
	eval(lookup func(string) interface{}) interface{}
}

type literal struct {
	val interface{}
}

func (l literal) eval(func(string) interface{}) interface{} {
	return l.val
}

type ident struct {
	name string
}

func (i ident) eval(lookup func(string) interface{}) interface{} {
	return normalize(lookup(i.name))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	default:
		return nil
	case bool, string, int64, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	}
}

type not struct {
	expr node
}

func (n not) eval(lookup func(string) interface{}) interface{} {
	switch v := n.expr.eval(lookup).(type) {
	case bool:
		return !v
	}
	return nil
}

type and struct {
	left, right node
}

func (a and) eval(lookup func(string) interface{}) interface{} {
	lv := a.left.eval(lookup)
	if b, ok := lv.(bool); ok && !b {
		return false
	}
	rv := a.right.eval(lookup)
	if b, ok := rv.(bool); ok && !b {
		return false
	}
	lb, lok := lv.(bool)
	rb, rok := rv.(bool)
	if lok && rok && lb && rb {
		return true
	}
	return nil
}

type or struct {
	left, right node
}

func (o or) eval(lookup func(string) interface{}) interface{} {
	lv := o.left.eval(lookup)
	if b, ok := lv.(bool); ok && b {
		return true
	}
	rv := o.right.eval(lookup)
	if b, ok := rv.(bool); ok && b {
		return true
	}
	_, lok := lv.(bool)
	_, rok := rv.(bool)
	if lok && rok {
		return false
	}
	return nil
}

type compare struct {
	op          string
	left, right node
}

func (c compare) eval(lookup func(string) interface{}) interface{} {
	return compareValues(c.op, c.left.eval(lookup), c.right.eval(lookup))
}

func compareValues(op string, l, r interface{}) interface{} {
	if l == nil || r == nil {
		return nil
	}

	if lf, rf, ok := numbers(l, r); ok {
		switch op {
		case "=":
			return lf == rf
		case "<>":
			return lf != rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
		return nil
	}

	switch lt := l.(type) {
	case string:
		rt, ok := r.(string)
		if !ok {
			return nil
		}
		switch op {
		case "=":
			return lt == rt
		case "<>":
			return lt != rt
		}
	case bool:
		rt, ok := r.(bool)
		if !ok {
			return nil
		}
		switch op {
		case "=":
			return lt == rt
		case "<>":
			return lt != rt
		}
	}
	return nil
}

// Returns both values as float64 if both are numeric.
func numbers(l, r interface{}) (float64, float64, bool) {
	lf, lok := number(l)
	rf, rok := number(r)
	return lf, rf, lok && rok
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

type arith struct {
	op          string
	left, right node
}

func (a arith) eval(lookup func(string) interface{}) interface{} {
	l := a.left.eval(lookup)
	r := a.right.eval(lookup)

	li, lint := l.(int64)
	ri, rint := r.(int64)
	if lint && rint {
		switch a.op {
		case "+":
			return li + ri
		case "-":
			return li - ri
		case "*":
			return li * ri
		case "/":
			if ri == 0 {
				return nil
			}
			return li / ri
		}
	}

	lf, rf, ok := numbers(l, r)
	if !ok {
		return nil
	}
	switch a.op {
	case "+":
		return lf + rf
	case "-":
		return lf - rf
	case "*":
		return lf * rf
	case "/":
		if rf == 0 {
			return nil
		}
		return lf / rf
	}
	return nil
}

type negate struct {
	expr node
}

func (n negate) eval(lookup func(string) interface{}) interface{} {
	switch t := n.expr.eval(lookup).(type) {
	case int64:
		return -t
	case float64:
		return -t
	}
	return nil
}

type isNull struct {
	expr   node
	negate bool
}

func (i isNull) eval(lookup func(string) interface{}) interface{} {
	null := i.expr.eval(lookup) == nil
	return null != i.negate
}

type between struct {
	expr, low, high node
	negate          bool
}

func (b between) eval(lookup func(string) interface{}) interface{} {
	v := b.expr.eval(lookup)
	ret := and{
		literal{compareValues(">=", v, b.low.eval(lookup))},
		literal{compareValues("<=", v, b.high.eval(lookup))},
	}.eval(lookup)
	if b.negate {
		return not{literal{ret}}.eval(lookup)
	}
	return ret
}

type in struct {
	expr   node
	set    []string
	negate bool
}

func (i in) eval(lookup func(string) interface{}) interface{} {
	s, ok := i.expr.eval(lookup).(string)
	if !ok {
		return nil
	}
	for _, cur := range i.set {
		if cur == s {
			return !i.negate
		}
	}
	return i.negate
}

type like struct {
	expr    node
	pattern *regexp.Regexp
	negate  bool
}

func (l like) eval(lookup func(string) interface{}) interface{} {
	s, ok := l.expr.eval(lookup).(string)
	if !ok {
		return nil
	}
	return l.pattern.MatchString(s) != l.negate
}

// Translates a like pattern into an anchored regular expression.
func compileLike(pattern string, escape rune, hasEscape bool) (*regexp.Regexp, error) {
	var buf strings.Builder
	buf.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			buf.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case hasEscape && r == escape:
			escaped = true
		case r == '%':
			buf.WriteString(".*")
		case r == '_':
			buf.WriteString(".")
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	buf.WriteString("$")
	return regexp.Compile(buf.String())
}
