package dom

import (
	"errors"
	"fmt"
)

// DOMError represents a DOM exception with a name and message.
type DOMError struct {
	Name    string
	Message string
}

func (e *DOMError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Is lets errors.Is match a DOMError against one of the sentinel names.
func (e *DOMError) Is(target error) bool {
	var other *DOMError
	if errors.As(target, &other) {
		return other.Name == e.Name && other.Message == ""
	}
	return false
}

// Sentinels for errors.Is comparisons. They carry a name and no message.
var (
	ErrSyntax           = &DOMError{Name: "SyntaxError"}
	ErrHierarchyRequest = &DOMError{Name: "HierarchyRequestError"}
	ErrNotFound         = &DOMError{Name: "NotFoundError"}
	ErrInvalidCharacter = &DOMError{Name: "InvalidCharacterError"}
)

// NewSyntaxError creates a SyntaxError.
func NewSyntaxError(message string) *DOMError {
	return &DOMError{Name: "SyntaxError", Message: message}
}

// NewHierarchyRequestError creates a HierarchyRequestError.
func NewHierarchyRequestError(message string) *DOMError {
	return &DOMError{Name: "HierarchyRequestError", Message: message}
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(message string) *DOMError {
	return &DOMError{Name: "NotFoundError", Message: message}
}

// NewInvalidCharacterError creates an InvalidCharacterError.
func NewInvalidCharacterError(message string) *DOMError {
	return &DOMError{Name: "InvalidCharacterError", Message: message}
}
