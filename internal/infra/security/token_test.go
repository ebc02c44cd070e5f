package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/shared/errs"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("secret", "campusmarket")
	raw, err := tokens.Issue("alice", time.Hour)
	require.NoError(t, err)

	sub, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &Tokens{Secret: []byte("secret"), Issuer: "campusmarket", Now: func() time.Time { return now }}

	expired, err := (&Tokens{Secret: []byte("secret"), Issuer: "campusmarket", Now: func() time.Time { return now.Add(-2 * time.Hour) }}).Issue("alice", time.Hour)
	require.NoError(t, err)
	otherKey, err := NewTokens("other", "campusmarket").Issue("alice", time.Hour)
	require.NoError(t, err)
	otherIssuer, err := (&Tokens{Secret: []byte("secret"), Issuer: "elsewhere", Now: func() time.Time { return now }}).Issue("alice", time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "campusmarket"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "campusmarket",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no expiry":    noExpiry,
		"no subject":   noSubject,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrAuth)
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	token, err = BearerToken("bearer   xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	for _, header := range []string{"", "Basic abc", "Bearer ", "Token abc"} {
		_, err := BearerToken(header)
		assert.ErrorIs(t, err, errs.ErrAuth, header)
	}
}
