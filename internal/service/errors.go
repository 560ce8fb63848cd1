package service

import (
	"errors"

	"review-api/internal/validation"
)

var (
	// ErrValidation covers malformed bodies and missing or blank fields.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidEmail is returned when an email is syntactically invalid.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword is returned when a password violates the strength policy.
	ErrWeakPassword = validation.ErrWeakPassword
	// ErrDuplicateEmail is returned when registering an email that exists.
	ErrDuplicateEmail = errors.New("user already exists")
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthorized is returned when no usable token identifies the caller.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrIncorrectPassword is returned when the current password does not match.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrUnregisteredEmail is returned by reset for unknown emails.
	ErrUnregisteredEmail = errors.New("email not registered")
)
