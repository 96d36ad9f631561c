// Package http provides HTTP middleware for authentication and token balance enforcement
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gustaflugnegard/FOND-GPT/pkg/auth"
	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// DefaultMaxBodyBytes bounds the request body the gate will buffer.
const DefaultMaxBodyBytes = 1 << 20

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// ContentExtractor returns the question text the gate should estimate
type ContentExtractor func(r *http.Request) (string, error)

// Config holds balance gate configuration
type Config struct {
	// Store is the balance store (required)
	Store *tokens.Store

	// Estimator prices the question. Defaults to the shared BPE estimator.
	Estimator *tokens.Estimator

	// GetUserID extracts user ID from request. Default: FromContext
	GetUserID UserIDExtractor

	// GetContent extracts the question text. Default: JSONContent
	GetContent ContentExtractor

	// Metrics receives gate decisions
	Metrics tokens.Metrics

	// OnInsufficient is called when the estimate exceeds the balance
	// If nil, returns 402 Payment Required with a JSON body
	OnInsufficient func(w http.ResponseWriter, r *http.Request, balance, estimated int)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the balance cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// BalanceGate rejects questions whose estimated cost exceeds the caller's
// authoritative balance. Requests whose content cannot be extracted are passed
// through so the handler can report the validation error.
func BalanceGate(config Config) func(http.Handler) http.Handler {
	if config.GetUserID == nil {
		config.GetUserID = FromContext
	}
	if config.GetContent == nil {
		config.GetContent = JSONContent(DefaultMaxBodyBytes)
	}
	if config.Metrics == nil {
		config.Metrics = &tokens.NoopMetrics{}
	}
	estimate := tokens.EstimateTokens
	if config.Estimator != nil {
		estimate = config.Estimator.Estimate
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeError(w, http.StatusUnauthorized, "User not authenticated")
				}
				return
			}

			content, err := config.GetContent(r)
			if err != nil || content == "" {
				next.ServeHTTP(w, r)
				return
			}

			balance, err := config.Store.Balance(r.Context(), userID)
			if err != nil {
				config.Metrics.RecordGateDecision(tokens.GateBalanceUnavailable)
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
				}
				return
			}

			estimated := estimate(content)
			if estimated > balance {
				config.Metrics.RecordGateDecision(tokens.GateInsufficient)
				if config.OnInsufficient != nil {
					config.OnInsufficient(w, r, balance, estimated)
				} else {
					writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
						"error":     "Insufficient tokens",
						"tokens":    balance,
						"estimated": estimated,
					})
				}
				return
			}

			config.Metrics.RecordGateDecision(tokens.GateAllowed)
			next.ServeHTTP(w, r)
		})
	}
}

// JSONContent returns a ContentExtractor reading the "content" field of a JSON
// body. The body is restored for the next handler.
func JSONContent(maxBytes int64) ContentExtractor {
	return func(r *http.Request) (string, error) {
		if r.Body == nil {
			return "", nil
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
		if err != nil {
			return "", err
		}
		if int64(len(body)) > maxBytes {
			r.Body = readCloser{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
			return "", errors.New("request body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", err
		}
		return payload.Content, nil
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Authenticate verifies the bearer token and stores the user id in the request
// context. Requests without a valid token are rejected with 401.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "User not authenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "fondgpt:userID"
)

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext returns the authenticated user id, or "" if none
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// FromContext is a UserIDExtractor reading the id set by Authenticate
func FromContext(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
