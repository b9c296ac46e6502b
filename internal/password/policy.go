// Package password validates new passwords against a composable policy.
package password

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Reason codes returned in ValidationError.
const (
	ReasonMinLength       = "invalidPasswordMinLength"
	ReasonMaxLength       = "invalidPasswordMaxLength"
	ReasonMinDigits       = "invalidPasswordMinDigits"
	ReasonMinLowerChars   = "invalidPasswordMinLowerChars"
	ReasonMinUpperChars   = "invalidPasswordMinUpperChars"
	ReasonMinSpecialChars = "invalidPasswordMinSpecialChars"
	ReasonNotUsername     = "invalidPasswordNotUsername"
	ReasonNotEmail        = "invalidPasswordNotEmail"
	ReasonNotPhone        = "invalidPasswordNotPhone"
)

// ValidationError reports the first policy rule a password violates.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidationError reports whether err is a policy violation and returns it.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Policy holds password rules. Counts are in characters; every character
// outside ASCII digits and letters is special.
type Policy struct {
	MinLength       int
	MaxLength       int
	MinDigits       int
	MinLowerChars   int
	MinUpperChars   int
	MinSpecialChars int
	NotUsername     bool // must not contain the username (case-sensitive)
	NotEmail        bool // must not contain the email address (case-insensitive)
	NotPhone        bool // digits must not contain the phone number's digits
}

// DefaultPolicy requires 8 to 40 characters with at least one of each
// character class, and none of the user's identifiers.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:       8,
		MaxLength:       40,
		MinDigits:       1,
		MinLowerChars:   1,
		MinUpperChars:   1,
		MinSpecialChars: 1,
		NotUsername:     true,
		NotEmail:        true,
		NotPhone:        true,
	}
}

// Context carries the user identifiers a password is checked against.
type Context struct {
	Username string
	Email    string
	Phone    string
}

type charCounts struct {
	digits, lower, upper, special int
}

func countChars(s string) charCounts {
	var c charCounts
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			c.digits++
		case r >= 'A' && r <= 'Z':
			c.upper++
		case r >= 'a' && r <= 'z':
			c.lower++
		default:
			c.special++
		}
	}
	return c
}

// Validate checks password against the policy in a fixed order and returns
// a *ValidationError for the first rule violated, or nil.
func (p Policy) Validate(password string, ctx Context) error {
	length := utf8.RuneCountInString(password)
	counts := countChars(password)

	var reason string
	switch {
	case length < p.MinLength:
		reason = ReasonMinLength
	case length > p.MaxLength:
		reason = ReasonMaxLength
	case counts.digits < p.MinDigits:
		reason = ReasonMinDigits
	case counts.lower < p.MinLowerChars:
		reason = ReasonMinLowerChars
	case counts.upper < p.MinUpperChars:
		reason = ReasonMinUpperChars
	case counts.special < p.MinSpecialChars:
		reason = ReasonMinSpecialChars
	case p.NotUsername && ctx.Username != "" && strings.Contains(password, ctx.Username):
		reason = ReasonNotUsername
	case p.NotEmail && ctx.Email != "" && strings.Contains(strings.ToLower(password), strings.ToLower(ctx.Email)):
		reason = ReasonNotEmail
	case p.NotPhone && containsPhone(password, ctx.Phone):
		reason = ReasonNotPhone
	}

	if reason != "" {
		return &ValidationError{Reason: reason}
	}
	return nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// containsPhone compares digits only. An empty phone never matches; a phone
// without any digits matches every password.
func containsPhone(password, phone string) bool {
	if phone == "" {
		return false
	}
	return strings.Contains(digitsOnly(password), digitsOnly(phone))
}
