// SPDX-License-Identifier: MPL-2.0

package framework

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

const (
	opEqual filterOp = iota
	opApprox
	opGreaterEq
	opLessEq
	opPresent
	opSubstring
)

// ErrInvalidFilter is the sentinel error wrapped by InvalidFilterError.
var ErrInvalidFilter = errors.New("invalid filter")

type (
	// Filter matches service properties. Filters use the LDAP search filter
	// syntax: (&(a=1)(|(b>=2)(!(c=*x*)))).
	Filter interface {
		Match(props map[string]any) bool
		String() string
	}

	// InvalidFilterError reports a filter that does not parse.
	// It wraps ErrInvalidFilter for errors.Is() compatibility.
	InvalidFilterError struct {
		Filter string
		Pos    int
		Reason string
	}

	filterOp int

	andFilter []Filter
	orFilter  []Filter
	notFilter struct{ inner Filter }

	itemFilter struct {
		attr string
		op   filterOp
		// value is the unescaped comparison value.
		value string
		// parts holds the literal pieces around '*' for substring matches.
		parts []string
		// raw is the value as written, escapes included.
		raw string
	}

	filterParser struct {
		src string
		pos int
	}
)

// Error implements the error interface for InvalidFilterError.
func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %q at offset %d: %s", e.Filter, e.Pos, e.Reason)
}

// Unwrap returns ErrInvalidFilter for errors.Is() compatibility.
func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// ParseFilter parses an LDAP-style filter expression.
func ParseFilter(expr string) (Filter, error) {
	p := &filterParser{src: expr}
	p.skipSpace()
	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.fail("unexpected trailing characters")
	}
	return f, nil
}

// MustParseFilter is like ParseFilter but panics on error. It is meant for
// filters that are constants in code.
func MustParseFilter(expr string) Filter {
	f, err := ParseFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

func (p *filterParser) fail(reason string) error {
	return &InvalidFilterError{Filter: p.src, Pos: p.pos, Reason: reason}
}

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *filterParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *filterParser) parseFilter() (Filter, error) {
	if p.peek() != '(' {
		return nil, p.fail("expected '('")
	}
	p.pos++
	p.skipSpace()

	var (
		f   Filter
		err error
	)
	switch p.peek() {
	case '&':
		p.pos++
		var list []Filter
		list, err = p.parseList()
		f = andFilter(list)
	case '|':
		p.pos++
		var list []Filter
		list, err = p.parseList()
		f = orFilter(list)
	case '!':
		p.pos++
		p.skipSpace()
		var inner Filter
		inner, err = p.parseFilter()
		f = notFilter{inner: inner}
	default:
		f, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.peek() != ')' {
		return nil, p.fail("expected ')'")
	}
	p.pos++
	return f, nil
}

func (p *filterParser) parseList() ([]Filter, error) {
	var list []Filter
	p.skipSpace()
	for p.peek() == '(' {
		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		list = append(list, f)
		p.skipSpace()
	}
	if len(list) == 0 {
		return nil, p.fail("empty filter list")
	}
	return list, nil
}

func (p *filterParser) parseItem() (Filter, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=~<>()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.fail("missing attribute name")
	}

	var op filterOp
	switch {
	case strings.HasPrefix(p.src[p.pos:], "~="):
		op, p.pos = opApprox, p.pos+2
	case strings.HasPrefix(p.src[p.pos:], ">="):
		op, p.pos = opGreaterEq, p.pos+2
	case strings.HasPrefix(p.src[p.pos:], "<="):
		op, p.pos = opLessEq, p.pos+2
	case p.peek() == '=':
		op, p.pos = opEqual, p.pos+1
	default:
		return nil, p.fail("expected operator")
	}

	rawStart := p.pos
	var (
		parts   []string
		current strings.Builder
		stars   int
	)
	for p.pos < len(p.src) && p.src[p.pos] != ')' {
		c := p.src[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.fail("dangling escape")
			}
			current.WriteByte(p.src[p.pos])
		case '(':
			return nil, p.fail("unescaped '(' in value")
		case '*':
			if op == opEqual {
				parts = append(parts, current.String())
				current.Reset()
				stars++
			} else {
				current.WriteByte(c)
			}
		default:
			current.WriteByte(c)
		}
		p.pos++
	}
	parts = append(parts, current.String())
	raw := p.src[rawStart:p.pos]

	item := &itemFilter{attr: attr, op: op, raw: raw}
	switch {
	case stars == 0:
		item.value = parts[0]
	case stars == 1 && parts[0] == "" && parts[1] == "":
		item.op = opPresent
	default:
		item.op = opSubstring
		item.parts = parts
	}
	return item, nil
}

func (f andFilter) Match(props map[string]any) bool {
	for _, sub := range f {
		if !sub.Match(props) {
			return false
		}
	}
	return true
}

func (f andFilter) String() string { return joinFilters("&", f) }

func (f orFilter) Match(props map[string]any) bool {
	for _, sub := range f {
		if sub.Match(props) {
			return true
		}
	}
	return false
}

func (f orFilter) String() string { return joinFilters("|", f) }

func (f notFilter) Match(props map[string]any) bool { return !f.inner.Match(props) }

func (f notFilter) String() string { return "(!" + f.inner.String() + ")" }

func joinFilters(op string, list []Filter) string {
	var sb strings.Builder
	sb.WriteString("(" + op)
	for _, f := range list {
		sb.WriteString(f.String())
	}
	sb.WriteString(")")
	return sb.String()
}

func (f *itemFilter) String() string {
	switch f.op {
	case opApprox:
		return "(" + f.attr + "~=" + f.raw + ")"
	case opGreaterEq:
		return "(" + f.attr + ">=" + f.raw + ")"
	case opLessEq:
		return "(" + f.attr + "<=" + f.raw + ")"
	default:
		return "(" + f.attr + "=" + f.raw + ")"
	}
}

// Match looks the attribute up case-insensitively and compares each value
// it holds; a slice matches when any element does.
func (f *itemFilter) Match(props map[string]any) bool {
	v, ok := lookupFold(props, f.attr)
	if !ok || v == nil {
		return false
	}
	if f.op == opPresent {
		return true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := range rv.Len() {
			if f.matchValue(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return f.matchValue(v)
}

func (f *itemFilter) matchValue(v any) bool {
	switch f.op {
	case opSubstring:
		return matchSubstring(fmt.Sprint(v), f.parts)
	case opApprox:
		return normalizeApprox(fmt.Sprint(v)) == normalizeApprox(f.value)
	}

	if reflect.ValueOf(v).Kind() == reflect.Bool && f.op != opEqual {
		return false
	}
	cmp, ok := compareValue(v, f.value)
	if !ok {
		return false
	}
	switch f.op {
	case opEqual:
		return cmp == 0
	case opGreaterEq:
		return cmp >= 0
	case opLessEq:
		return cmp <= 0
	default:
		return false
	}
}

// compareValue compares a property value against a filter literal using the
// property's type. ok is false when the literal does not convert.
func compareValue(v any, literal string) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64)
		if err != nil {
			return 0, false
		}
		return compareOrdered(rv.Int(), n), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(literal), 10, 64)
		if err != nil {
			return 0, false
		}
		return compareOrdered(rv.Uint(), n), true
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil {
			return 0, false
		}
		return compareOrdered(rv.Float(), n), true
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(literal))
		if err != nil {
			return 0, false
		}
		if rv.Bool() != b {
			return 1, true
		}
		return 0, true
	case reflect.String:
		return strings.Compare(rv.String(), literal), true
	default:
		return strings.Compare(fmt.Sprint(v), literal), true
	}
}

func compareOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func matchSubstring(s string, parts []string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for _, mid := range parts[1:last] {
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return strings.HasSuffix(s, parts[last])
}

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func lookupFold(props map[string]any, key string) (any, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
