// Package token issues and verifies the signed, time-limited identity tokens
// handed out by the session and password recovery flows.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTTL    = 86400 * time.Second
	DefaultIssuer = "authgate"

	AudienceAccess        = "access"
	AudiencePasswordReset = "password-reset"
)

// ErrInvalidToken is the only verification failure callers observe.
var ErrInvalidToken = errors.New("invalid token")

// Config is the immutable signing configuration.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Codec signs and verifies HS256 tokens for a single audience.
type Codec struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// NewCodec returns an access-token codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{
		secret:   secret,
		ttl:      ttl,
		issuer:   issuer,
		audience: AudienceAccess,
		now:      time.Now,
	}, nil
}

// WithAudience returns a codec sharing the secret and TTL but bound to another purpose.
func (c *Codec) WithAudience(audience string) *Codec {
	cp := *c
	cp.audience = audience
	return &cp
}

// WithClock returns a codec using now as its time source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for subject that expires exactly TTL from now.
func (c *Codec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("token: empty subject")
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify returns the subject of a valid token. Bad signatures, expiry,
// malformed input and audience mismatches all yield ErrInvalidToken.
func (c *Codec) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// StripBearer removes an optional "Bearer " scheme prefix.
func StripBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
