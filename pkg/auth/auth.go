// Package auth verifies the session tokens issued by the auth provider.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid session token")
)

// Config holds verifier settings.
type Config struct {
	// Secret is the HS256 signing secret shared with the auth provider.
	Secret string

	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must be present in the aud claim.
	Audience string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Verifier checks session JWTs and returns the user id carried in sub.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	config Config
}

// NewVerifier creates a Verifier. The secret is required.
func NewVerifier(config Config) (*Verifier, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &Verifier{
		secret: []byte(config.Secret),
		parser: jwt.NewParser(opts...),
		config: config,
	}, nil
}

// Verify parses a raw token and returns its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Sign issues a token for userID valid for ttl. Used for local development
// and by the CLI token command.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", tokens.ErrUnauthenticated
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.config.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
