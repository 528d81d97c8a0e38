package dom

import (
	"fmt"
	"strings"
)

// validateToken checks if a token is valid the way DOMTokenList does.
func validateToken(token string) error {
	if token == "" {
		return NewSyntaxError("The token provided must not be empty.")
	}
	if strings.ContainsAny(token, " \t\n\r\f") {
		return NewInvalidCharacterError(fmt.Sprintf("The token provided ('%s') contains HTML space characters, which are not valid in tokens.", token))
	}
	return nil
}

// DOMTokenList represents a set of space-separated tokens.
// It is used for Element.classList.
type DOMTokenList struct {
	element  *Element
	attrName string
}

// newDOMTokenList creates a new DOMTokenList for the given element and attribute.
func newDOMTokenList(element *Element, attrName string) *DOMTokenList {
	return &DOMTokenList{
		element:  element,
		attrName: attrName,
	}
}

// tokens returns the current list of tokens (deduplicated, preserving order).
func (dtl *DOMTokenList) tokens() []string {
	value := dtl.element.GetAttribute(dtl.attrName)
	if value == "" {
		return nil
	}
	allTokens := strings.Fields(value)
	seen := make(map[string]bool, len(allTokens))
	result := make([]string, 0, len(allTokens))
	for _, token := range allTokens {
		if !seen[token] {
			seen[token] = true
			result = append(result, token)
		}
	}
	return result
}

// setTokens writes the tokens back to the attribute. An attribute that
// never existed is not created for an empty list.
func (dtl *DOMTokenList) setTokens(tokens []string) {
	if len(tokens) > 0 {
		dtl.element.SetAttribute(dtl.attrName, strings.Join(tokens, " "))
		return
	}
	if dtl.element.HasAttribute(dtl.attrName) {
		dtl.element.SetAttribute(dtl.attrName, "")
	}
}

// Contains returns true if the given token is in the list.
func (dtl *DOMTokenList) Contains(token string) bool {
	if validateToken(token) != nil {
		return false
	}
	for _, t := range dtl.tokens() {
		if t == token {
			return true
		}
	}
	return false
}

// Add adds one or more tokens to the list.
func (dtl *DOMTokenList) Add(tokens ...string) error {
	for _, token := range tokens {
		if err := validateToken(token); err != nil {
			return err
		}
	}
	current := dtl.tokens()
	for _, token := range tokens {
		found := false
		for _, t := range current {
			if t == token {
				found = true
				break
			}
		}
		if !found {
			current = append(current, token)
		}
	}
	dtl.setTokens(current)
	return nil
}

// Remove removes one or more tokens from the list.
func (dtl *DOMTokenList) Remove(tokens ...string) error {
	toRemove := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if err := validateToken(token); err != nil {
			return err
		}
		toRemove[token] = true
	}
	var result []string
	for _, t := range dtl.tokens() {
		if !toRemove[t] {
			result = append(result, t)
		}
	}
	dtl.setTokens(result)
	return nil
}

// String returns the underlying attribute value.
func (dtl *DOMTokenList) String() string {
	return dtl.element.GetAttribute(dtl.attrName)
}
