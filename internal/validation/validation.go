// Package validation checks request fields before the auth workflow acts on
// them: blank detection, email syntax and the password strength policy.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrWeakPassword is wrapped by every password policy violation.
var ErrWeakPassword = errors.New("weak password")

// Field is a named request value. A nil Value means the field was absent.
type Field struct {
	Name  string
	Value *string
}

// Validator is the capability the auth workflow relies on.
type Validator interface {
	// Blank returns the names of fields that are missing or whitespace only,
	// in the order given.
	Blank(fields ...Field) []string
	Email(email string) bool
	Password(password string) error
}

// PasswordPolicy is the strength policy enforced at registration.
type PasswordPolicy struct {
	MinLength     int
	// MaxBytes caps the encoded length; bcrypt rejects anything over 72 bytes.
	MaxBytes      int
	RequireDigit  bool
	RequireLetter bool
}

type helper struct {
	validate *validator.Validate
	policy   PasswordPolicy
}

func New(policy PasswordPolicy) Validator {
	if policy.MinLength <= 0 {
		policy.MinLength = 8
	}
	if policy.MaxBytes <= 0 || policy.MaxBytes > 72 {
		policy.MaxBytes = 72
	}
	return &helper{
		validate: validator.New(),
		policy:   policy,
	}
}

func (h *helper) Blank(fields ...Field) []string {
	var blank []string
	for _, f := range fields {
		if f.Value == nil || strings.TrimSpace(*f.Value) == "" {
			blank = append(blank, f.Name)
		}
	}
	return blank
}

func (h *helper) Email(email string) bool {
	return h.validate.Var(strings.TrimSpace(email), "required,email") == nil
}

func (h *helper) Password(password string) error {
	if len([]rune(password)) < h.policy.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, h.policy.MinLength)
	}
	if len(password) > h.policy.MaxBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrWeakPassword, h.policy.MaxBytes)
	}

	var hasDigit, hasLetter bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
			hasLetter = true
		}
	}
	if h.policy.RequireDigit && !hasDigit {
		return fmt.Errorf("%w: password must contain a digit", ErrWeakPassword)
	}
	if h.policy.RequireLetter && !hasLetter {
		return fmt.Errorf("%w: password must contain a letter", ErrWeakPassword)
	}
	return nil
}

// Ptr is a convenience for building fields from plain strings.
func Ptr(s string) *string {
	return &s
}
