package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campusmarket/internal/domain/shared/errs"
)

var (
	ErrMissingToken = errs.Auth("bearer token required", nil)
	ErrInvalidToken = errs.Auth("invalid bearer token", nil)
)

// Tokens verifies and issues HS256 bearer tokens whose subject is the user id.
type Tokens struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{Secret: []byte(secret), Issuer: issuer, Now: time.Now}
}

// Verify returns the user id carried by a token. Expiry is mandatory.
func (t *Tokens) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errs.Auth("token expired", err)
		}
		return "", errs.Auth("invalid bearer token", err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Issue signs a token for userID valid for ttl. It backs the dev tokens logged at startup.
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    t.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", errs.Auth("authorization header must use the Bearer scheme", nil)
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
