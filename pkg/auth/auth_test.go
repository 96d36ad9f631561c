package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, config Config) *Verifier {
	t.Helper()
	if config.Secret == "" {
		config.Secret = "test-secret"
	}
	v, err := NewVerifier(config)
	require.NoError(t, err)
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestVerifier_SignAndVerify(t *testing.T) {
	v := newVerifier(t, Config{Issuer: "supabase", Audience: "authenticated"})

	token, err := v.Sign("user-42", time.Minute)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := newVerifier(t, Config{})
	other := newVerifier(t, Config{Secret: "other-secret"})

	expired, err := v.Sign("user-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Sign("user-1", time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"no expiry", noExpiry, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerifier_IssuerMismatch(t *testing.T) {
	signer := newVerifier(t, Config{Issuer: "someone-else"})
	v := newVerifier(t, Config{Issuer: "supabase"})

	token, err := signer.Sign("user-1", time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
	assert.Equal(t, "", BearerToken(""))
}
