package domain

import (
	"strings"
	"time"
)

// User represents a registered account. PasswordHash never holds plaintext.
type User struct {
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail canonicalizes an email for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims the name and collapses internal whitespace runs.
func NormalizeUsername(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
