package domain

import "time"

// Claims is the verified identity carried by an access token.
type Claims struct {
	Subject   string
	Username  string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
