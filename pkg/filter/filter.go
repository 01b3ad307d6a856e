// Package filter compiles target filter queries into predicates.
//
// The query language is a small FIQL/RSQL dialect:
//
//	name==edge-*;attribute.hw==v2,updatestatus==error
//
// A comparison is `field op value`. Operators are `==`, `!=`, `=in=` and
// `=out=`; the set operators take a parenthesised, comma separated list.
// `;` is AND and binds tighter than `,` (OR). Parentheses group. Values may
// be quoted with single or double quotes and may contain `*` wildcards.
// Matching is case-insensitive. The empty query matches every target.
//
// Fields: id, name, description, updatestatus, assignedds, installedds,
// and attribute.<key>. A comparison on an absent attribute is false for
// `==`/`=in=` and true for `!=`/`=out=`.
package filter

import (
	"fmt"
	"strings"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Predicate is a compiled filter query.
type Predicate struct {
	query string
	root  node
}

// Compile parses query. Errors wrap model.ErrInvalidFilter.
func Compile(query string) (*Predicate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return &Predicate{}, nil
	}
	p := &parser{src: q}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return &Predicate{query: q, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(query string) *Predicate {
	p, err := Compile(query)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate reports whether query compiles.
func Validate(query string) error {
	_, err := Compile(query)
	return err
}

// Matches reports whether t satisfies the query.
func (p *Predicate) Matches(t *model.Target) bool {
	if p == nil || p.root == nil {
		return true
	}
	return p.root.eval(t)
}

// String returns the normalised source query.
func (p *Predicate) String() string {
	if p == nil {
		return ""
	}
	return p.query
}

// And combines predicates; nil operands are ignored.
func And(preds ...*Predicate) *Predicate {
	var nodes []node
	var parts []string
	for _, p := range preds {
		if p == nil || p.root == nil {
			continue
		}
		nodes = append(nodes, p.root)
		parts = append(parts, "("+p.query+")")
	}
	switch len(nodes) {
	case 0:
		return &Predicate{}
	case 1:
		return &Predicate{query: parts[0][1 : len(parts[0])-1], root: nodes[0]}
	}
	return &Predicate{query: strings.Join(parts, ";"), root: andNode(nodes)}
}

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type node interface {
	eval(t *model.Target) bool
}

type andNode []node

func (n andNode) eval(t *model.Target) bool {
	for _, c := range n {
		if !c.eval(t) {
			return false
		}
	}
	return true
}

type orNode []node

func (n orNode) eval(t *model.Target) bool {
	for _, c := range n {
		if c.eval(t) {
			return true
		}
	}
	return false
}

type comparison struct {
	field  string
	attr   string
	negate bool
	values []string
}

func (c *comparison) eval(t *model.Target) bool {
	v, ok := c.lookup(t)
	if !ok {
		return c.negate
	}
	v = strings.ToLower(v)
	for _, pat := range c.values {
		if wildcardMatch(pat, v) {
			return !c.negate
		}
	}
	return c.negate
}

func (c *comparison) lookup(t *model.Target) (string, bool) {
	switch c.field {
	case "id":
		return t.ID, true
	case "name":
		return t.Name, true
	case "description":
		return t.Description, true
	case "updatestatus":
		return string(t.UpdateStatus), true
	case "assignedds":
		return t.AssignedDS, true
	case "installedds":
		return t.InstalledDS, true
	case "attribute":
		v, ok := t.Attributes[c.attr]
		return v, ok
	}
	return "", false
}

var fields = map[string]bool{
	"id":           true,
	"name":         true,
	"description":  true,
	"updatestatus": true,
	"assignedds":   true,
	"installedds":  true,
}

// wildcardMatch matches s against a lower-cased pattern where `*` matches
// any run of characters.
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return strings.HasSuffix(s, last)
}

// ---------------------------------------------------------------------------
// parser
// ---------------------------------------------------------------------------

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("position %d: %s: %w", p.pos, fmt.Sprintf(format, args...), model.ErrInvalidFilter)
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) parseOr() (node, error) {
	var terms orNode
	for {
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
		p.skipSpace()
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *parser) parseAnd() (node, error) {
	var terms andNode
	for {
		n, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
		p.skipSpace()
		if p.peek() != ';' {
			break
		}
		p.pos++
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *parser) parsePrimary() (node, error) {
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return n, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	start := p.pos
	for !p.eof() && isSelectorChar(p.peek()) {
		p.pos++
	}
	sel := strings.ToLower(p.src[start:p.pos])
	if sel == "" {
		return nil, p.errorf("expected field name")
	}
	c := &comparison{field: sel}
	if attr, ok := strings.CutPrefix(sel, "attribute."); ok {
		if attr == "" {
			return nil, p.errorf("empty attribute key")
		}
		// Attribute keys keep their original case.
		c.field, c.attr = "attribute", p.src[start+len("attribute."):p.pos]
	} else if !fields[sel] {
		return nil, p.errorf("unknown field %q", sel)
	}

	p.skipSpace()
	rest := p.src[p.pos:]
	set := false
	switch {
	case strings.HasPrefix(rest, "=="):
		p.pos += 2
	case strings.HasPrefix(rest, "!="):
		p.pos += 2
		c.negate = true
	case strings.HasPrefix(strings.ToLower(rest), "=in="):
		p.pos += 4
		set = true
	case strings.HasPrefix(strings.ToLower(rest), "=out="):
		p.pos += 5
		set = true
		c.negate = true
	default:
		return nil, p.errorf("expected operator after %q", sel)
	}

	p.skipSpace()
	if !set {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		c.values = []string{v}
		return c, nil
	}
	if p.peek() != '(' {
		return nil, p.errorf("expected value list")
	}
	p.pos++
	for {
		p.skipSpace()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		c.values = append(c.values, v)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() != ')' {
			return nil, p.errorf("missing closing parenthesis in value list")
		}
		p.pos++
		return c, nil
	}
}

func (p *parser) parseValue() (string, error) {
	if q := p.peek(); q == '"' || q == '\'' {
		p.pos++
		var b strings.Builder
		for !p.eof() {
			ch := p.src[p.pos]
			p.pos++
			switch {
			case ch == '\\' && !p.eof():
				b.WriteByte(p.src[p.pos])
				p.pos++
			case ch == q:
				return strings.ToLower(b.String()), nil
			default:
				b.WriteByte(ch)
			}
		}
		return "", p.errorf("unterminated quoted value")
	}
	start := p.pos
	for !p.eof() && !strings.ContainsRune(";,()'\" \t\n", rune(p.peek())) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected value")
	}
	return strings.ToLower(p.src[start:p.pos]), nil
}

func isSelectorChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
		ch == '.' || ch == '_' || ch == '-'
}
