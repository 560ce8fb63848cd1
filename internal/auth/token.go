package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"review-api/internal/domain"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and unexpected algorithms.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrRevokedToken is returned for tokens whose jti was revoked.
	ErrRevokedToken = errors.New("token revoked")
)

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type accessClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// TokenIssuer mints and verifies HS256 access tokens.
type TokenIssuer struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
	revoked RevocationChecker
}

func NewTokenIssuer(cfg TokenConfig, revoked RevocationChecker) (*TokenIssuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if revoked == nil {
		return nil, errors.New("revocation checker is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
		now:     now,
		revoked: revoked,
	}, nil
}

// Issue signs a new token for subject with a fresh jti.
func (t *TokenIssuer) Issue(subject, username string) (string, domain.Claims, error) {
	now := t.now().UTC().Truncate(time.Second)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, toDomain(claims), nil
}

// Verify checks signature, expiry and revocation, in that order.
func (t *TokenIssuer) Verify(ctx context.Context, token string) (domain.Claims, error) {
	claims := &accessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Claims{}, ErrExpiredToken
		}
		return domain.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return domain.Claims{}, ErrInvalidToken
	}

	revoked, err := t.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return domain.Claims{}, ErrRevokedToken
	}
	return toDomain(*claims), nil
}

func toDomain(c accessClaims) domain.Claims {
	out := domain.Claims{
		Subject:  c.Subject,
		Username: c.Username,
		JTI:      c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
