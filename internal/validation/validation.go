// Package validation provides centralized input validation for gridforce.
package validation

import (
	"fmt"
	"unicode"
)

// NameRules defines the validation rules for identifier-like inputs.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// VariableNameRules returns the rules for forcing variable names.
func VariableNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: false,
		AllowUnders:  true,
	}
}

// DivideIDRules returns the rules for divide identifiers (e.g. "cat-11").
func DivideIDRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character %q at position %d", r, i)
		}
	}

	return nil
}

// ValidateVariableName validates a forcing variable name.
func ValidateVariableName(name string) error {
	if err := ValidateName(name, VariableNameRules()); err != nil {
		return fmt.Errorf("variable name %q: %w", name, err)
	}
	return nil
}

// ValidateDivideID validates a divide identifier.
func ValidateDivideID(id string) error {
	if err := ValidateName(id, DivideIDRules()); err != nil {
		return fmt.Errorf("divide_id %q: %w", id, err)
	}
	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}
