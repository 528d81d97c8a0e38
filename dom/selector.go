package dom

import (
	"fmt"
	"strings"
)

// The selector subset covers what overlay code passes around: type, #id,
// .class, [attr], [attr=value] (plus ~= |= ^= $= *=), the universal
// selector, compound selectors, descendant and child combinators, and
// comma-separated groups.

type attrSelector struct {
	name  string
	op    string
	value string
}

type compoundSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSelector
}

// complexSelector is a chain of compounds joined by combinators; combinators[i]
// joins compounds[i] and compounds[i+1] and is either ' ' or '>'.
type complexSelector struct {
	compounds   []compoundSelector
	combinators []byte
}

func parseSelectorGroup(selector string) ([]complexSelector, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, NewSyntaxError("'' is not a valid selector.")
	}
	var out []complexSelector
	for _, part := range splitOutsideBrackets(selector, ',') {
		cs, err := parseComplexSelector(strings.TrimSpace(part))
		if err != nil {
			return nil, NewSyntaxError(fmt.Sprintf("'%s' is not a valid selector: %s", selector, err.Error()))
		}
		out = append(out, cs)
	}
	return out, nil
}

func splitOutsideBrackets(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func parseComplexSelector(s string) (complexSelector, error) {
	var cs complexSelector
	if s == "" {
		return cs, fmt.Errorf("empty selector")
	}

	var current strings.Builder
	pending := byte(0)
	flush := func() error {
		if current.Len() == 0 {
			return nil
		}
		compound, err := parseCompoundSelector(current.String())
		if err != nil {
			return err
		}
		if len(cs.compounds) > 0 {
			if pending == 0 {
				pending = ' '
			}
			cs.combinators = append(cs.combinators, pending)
		} else if pending == '>' {
			return fmt.Errorf("leading combinator")
		}
		cs.compounds = append(cs.compounds, compound)
		current.Reset()
		pending = 0
		return nil
	}

	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '[':
			depth++
			current.WriteByte(c)
		case c == ']':
			depth--
			current.WriteByte(c)
		case depth > 0:
			current.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n':
			if err := flush(); err != nil {
				return cs, err
			}
			if pending == 0 && len(cs.compounds) > 0 {
				pending = ' '
			}
		case c == '>':
			if err := flush(); err != nil {
				return cs, err
			}
			if len(cs.compounds) == 0 || pending == '>' {
				return cs, fmt.Errorf("dangling combinator")
			}
			pending = '>'
		default:
			current.WriteByte(c)
		}
	}
	if depth != 0 {
		return cs, fmt.Errorf("unbalanced brackets")
	}
	if pending == '>' && current.Len() == 0 {
		return cs, fmt.Errorf("trailing combinator")
	}
	if err := flush(); err != nil {
		return cs, err
	}
	return cs, nil
}

func isIdentByte(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

func readIdent(s string) (string, string) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func parseCompoundSelector(s string) (compoundSelector, error) {
	var cs compoundSelector
	if s[0] == '*' {
		cs.tag = "*"
		s = s[1:]
	} else if isIdentByte(s[0]) {
		cs.tag, s = readIdent(s)
		cs.tag = strings.ToLower(cs.tag)
	}

	for len(s) > 0 {
		var name string
		switch s[0] {
		case '#':
			name, s = readIdent(s[1:])
			if name == "" {
				return cs, fmt.Errorf("empty id")
			}
			cs.id = name
		case '.':
			name, s = readIdent(s[1:])
			if name == "" {
				return cs, fmt.Errorf("empty class")
			}
			cs.classes = append(cs.classes, name)
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return cs, fmt.Errorf("unterminated attribute selector")
			}
			attr, err := parseAttrSelector(s[1:end])
			if err != nil {
				return cs, err
			}
			cs.attrs = append(cs.attrs, attr)
			s = s[end+1:]
		default:
			return cs, fmt.Errorf("unexpected %q", s[0])
		}
	}
	return cs, nil
}

func parseAttrSelector(s string) (attrSelector, error) {
	s = strings.TrimSpace(s)
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		if name, rest := readIdent(s); name != "" && rest == "" {
			return attrSelector{name: strings.ToLower(name)}, nil
		}
		return attrSelector{}, fmt.Errorf("invalid attribute selector %q", s)
	}
	nameEnd, op := eq, "="
	if eq > 0 && strings.IndexByte("~|^$*", s[eq-1]) >= 0 {
		nameEnd = eq - 1
		op = s[eq-1 : eq+1]
	}
	name := strings.TrimSpace(s[:nameEnd])
	if ident, rest := readIdent(name); ident == "" || rest != "" {
		return attrSelector{}, fmt.Errorf("invalid attribute name %q", name)
	}
	value := strings.Trim(strings.TrimSpace(s[eq+1:]), `"'`)
	return attrSelector{name: strings.ToLower(name), op: op, value: value}, nil
}

func (cs compoundSelector) matches(e *Element) bool {
	if cs.tag != "" && cs.tag != "*" && cs.tag != e.LocalName() {
		return false
	}
	if cs.id != "" && e.Id() != cs.id {
		return false
	}
	for _, c := range cs.classes {
		if !e.ClassList().Contains(c) {
			return false
		}
	}
	for _, a := range cs.attrs {
		if !a.matches(e) {
			return false
		}
	}
	return true
}

func (a attrSelector) matches(e *Element) bool {
	if !e.HasAttribute(a.name) {
		return false
	}
	v := e.GetAttribute(a.name)
	switch a.op {
	case "":
		return true
	case "=":
		return v == a.value
	case "~=":
		for _, word := range strings.Fields(v) {
			if word == a.value {
				return true
			}
		}
		return false
	case "|=":
		return v == a.value || strings.HasPrefix(v, a.value+"-")
	case "^=":
		return a.value != "" && strings.HasPrefix(v, a.value)
	case "$=":
		return a.value != "" && strings.HasSuffix(v, a.value)
	case "*=":
		return a.value != "" && strings.Contains(v, a.value)
	}
	return false
}

func (cs complexSelector) matches(e *Element) bool {
	return cs.matchFrom(e, len(cs.compounds)-1)
}

func (cs complexSelector) matchFrom(e *Element, idx int) bool {
	if !cs.compounds[idx].matches(e) {
		return false
	}
	if idx == 0 {
		return true
	}
	if cs.combinators[idx-1] == '>' {
		parent := e.ParentElement()
		return parent != nil && cs.matchFrom(parent, idx-1)
	}
	for anc := e.ParentElement(); anc != nil; anc = anc.ParentElement() {
		if cs.matchFrom(anc, idx-1) {
			return true
		}
	}
	return false
}

func matchesAny(group []complexSelector, e *Element) bool {
	for _, cs := range group {
		if cs.matches(e) {
			return true
		}
	}
	return false
}

// Matches returns true if the element matches the given selector. Invalid
// selectors never match; use MatchesWithError to see the syntax error.
func (e *Element) Matches(selector string) bool {
	ok, _ := e.MatchesWithError(selector)
	return ok
}

// MatchesWithError reports whether the element matches the selector.
func (e *Element) MatchesWithError(selector string) (bool, error) {
	group, err := parseSelectorGroup(selector)
	if err != nil {
		return false, err
	}
	return matchesAny(group, e), nil
}

// Closest returns the closest ancestor element (or self) matching the selector.
func (e *Element) Closest(selector string) *Element {
	el, _ := e.ClosestWithError(selector)
	return el
}

// ClosestWithError is Closest with the selector syntax error surfaced.
func (e *Element) ClosestWithError(selector string) (*Element, error) {
	group, err := parseSelectorGroup(selector)
	if err != nil {
		return nil, err
	}
	for current := e; current != nil; current = current.ParentElement() {
		if matchesAny(group, current) {
			return current, nil
		}
	}
	return nil, nil
}

// QuerySelector returns the first descendant matching the selector.
func (e *Element) QuerySelector(selector string) *Element {
	found := querySelectorAll(e.AsNode(), selector, true)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// QuerySelectorAll returns every descendant matching the selector in tree order.
func (e *Element) QuerySelectorAll(selector string) []*Element {
	return querySelectorAll(e.AsNode(), selector, false)
}

func querySelectorAll(root *Node, selector string, firstOnly bool) []*Element {
	group, err := parseSelectorGroup(selector)
	if err != nil {
		return nil
	}
	var results []*Element
	for c := root.firstChild; c != nil; c = c.nextSibling {
		cont := c.walk(func(n *Node) bool {
			if n.nodeType == ElementNode && matchesAny(group, (*Element)(n)) {
				results = append(results, (*Element)(n))
				return !firstOnly
			}
			return true
		})
		if !cont {
			break
		}
	}
	return results
}
