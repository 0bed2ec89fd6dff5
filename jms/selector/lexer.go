package selector

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokFloat
	tokOp
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]struct{}{
	"AND": {}, "OR": {}, "NOT": {}, "BETWEEN": {}, "LIKE": {}, "IN": {},
	"IS": {}, "NULL": {}, "TRUE": {}, "FALSE": {}, "ESCAPE": {},
}

func lex(src string) ([]token, error) {
	runes := []rune(src)
	ret := make([]token, 0, 16)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case jms.IsIdentifierStart(r):
			start := i
			for i < len(runes) && jms.IsIdentifierPart(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			if _, ok := keywords[strings.ToUpper(word)]; ok {
				ret = append(ret, token{tokKeyword, strings.ToUpper(word), start})
			} else {
				ret = append(ret, token{tokIdent, word, start})
			}
		case r == '\'':
			start := i
			var buf strings.Builder
			i++
			for {
				if i >= len(runes) {
					return nil, errors.Wrapf(jms.InvalidSelectorError, "Unterminated string at [%v]", start)
				}
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						buf.WriteRune('\'')
						i += 2
						continue
					}
					i++
					break
				}
				buf.WriteRune(runes[i])
				i++
			}
			ret = append(ret, token{tokString, buf.String(), start})
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			kind := tokInt
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			if i < len(runes) && runes[i] == '.' {
				kind = tokFloat
				i++
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				kind = tokFloat
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			text := string(runes[start:i])
			if i < len(runes) && (runes[i] == 'l' || runes[i] == 'L') && kind == tokInt {
				i++
			}
			ret = append(ret, token{kind, text, start})
		default:
			start := i
			switch r {
			case '=', '+', '-', '*', '/', '(', ')', ',':
				i++
			case '<':
				i++
				if i < len(runes) && (runes[i] == '=' || runes[i] == '>') {
					i++
				}
			case '>':
				i++
				if i < len(runes) && runes[i] == '=' {
					i++
				}
			default:
				return nil, errors.Wrapf(jms.InvalidSelectorError, "Unexpected character [%c] at [%v]", r, i)
			}
			ret = append(ret, token{tokOp, string(runes[start:i]), start})
		}
	}
	return append(ret, token{tokEOF, "", len(runes)}), nil
}
