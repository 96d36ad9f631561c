package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustaflugnegard/FOND-GPT/pkg/auth"
	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
	"github.com/gustaflugnegard/FOND-GPT/storage/memory"
)

type fixedTokenizer int

func (f fixedTokenizer) Count(string) (int, error) { return int(f), nil }

type gateMetrics struct {
	tokens.NoopMetrics
	decisions []string
}

func (m *gateMetrics) RecordGateDecision(outcome string) {
	m.decisions = append(m.decisions, outcome)
}

type downStorage struct{ tokens.Storage }

func (downStorage) GetBalance(context.Context, string) (int, error) {
	return 0, errors.New("backend down")
}

// Test helper to create a store holding balance for user1
func setupTestStore(t *testing.T, balance int) *tokens.Store {
	t.Helper()

	storage := memory.New()
	if balance > 0 {
		_, err := storage.AddTokens(context.Background(), "user1", balance)
		require.NoError(t, err)
	}
	store, err := tokens.NewStore(storage, tokens.DefaultConfig())
	require.NoError(t, err)
	return store
}

func okHandler(t *testing.T, wantBody string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, wantBody, string(body), "body must reach the handler intact")
		w.WriteHeader(http.StatusOK)
	})
}

func askRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	return req.WithContext(WithUserID(req.Context(), "user1"))
}

func TestBalanceGate_Allows(t *testing.T) {
	metrics := &gateMetrics{}
	mw := BalanceGate(Config{
		Store:     setupTestStore(t, 100),
		Estimator: tokens.NewEstimator(fixedTokenizer(40)),
		Metrics:   metrics,
	})

	body := `{"content":"Vilka fonder äger Volvo?"}`
	rec := httptest.NewRecorder()
	mw(okHandler(t, body)).ServeHTTP(rec, askRequest(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{tokens.GateAllowed}, metrics.decisions)
}

func TestBalanceGate_RejectsInsufficient(t *testing.T) {
	metrics := &gateMetrics{}
	mw := BalanceGate(Config{
		Store:     setupTestStore(t, 10),
		Estimator: tokens.NewEstimator(fixedTokenizer(40)),
		Metrics:   metrics,
	})

	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})).ServeHTTP(rec, askRequest(`{"content":"q"}`))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var resp struct {
		Error     string `json:"error"`
		Tokens    int    `json:"tokens"`
		Estimated int    `json:"estimated"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Insufficient tokens", resp.Error)
	assert.Equal(t, 10, resp.Tokens)
	assert.Equal(t, 40, resp.Estimated)
	assert.Equal(t, []string{tokens.GateInsufficient}, metrics.decisions)
}

func TestBalanceGate_EqualBalanceAllowed(t *testing.T) {
	mw := BalanceGate(Config{
		Store:     setupTestStore(t, 40),
		Estimator: tokens.NewEstimator(fixedTokenizer(40)),
	})

	rec := httptest.NewRecorder()
	mw(okHandler(t, `{"content":"q"}`)).ServeHTTP(rec, askRequest(`{"content":"q"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBalanceGate_PassesInvalidBodies(t *testing.T) {
	mw := BalanceGate(Config{
		Store:     setupTestStore(t, 0),
		Estimator: tokens.NewEstimator(fixedTokenizer(40)),
	})

	for _, body := range []string{`not json`, `{"content":""}`, `{}`} {
		rec := httptest.NewRecorder()
		mw(okHandler(t, body)).ServeHTTP(rec, askRequest(body))
		assert.Equal(t, http.StatusOK, rec.Code, body)
	}
}

func TestBalanceGate_Unauthorized(t *testing.T) {
	mw := BalanceGate(Config{Store: setupTestStore(t, 100)})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"content":"q"}`))
	mw(okHandler(t, "")).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalanceGate_BalanceError(t *testing.T) {
	store, err := tokens.NewStore(downStorage{}, tokens.DefaultConfig())
	require.NoError(t, err)

	var gotErr error
	mw := BalanceGate(Config{
		Store:     store,
		Estimator: tokens.NewEstimator(fixedTokenizer(1)),
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})

	rec := httptest.NewRecorder()
	mw(okHandler(t, "")).ServeHTTP(rec, askRequest(`{"content":"q"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Error(t, gotErr)
}

func TestJSONContent_TooLarge(t *testing.T) {
	extract := JSONContent(8)
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"content":"far too long"}`))
	_, err := extract(req)
	assert.Error(t, err)

	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, `{"content":"far too long"}`, string(body))
}

func TestAuthenticate(t *testing.T) {
	verifier, err := auth.NewVerifier(auth.Config{Secret: "s3cret"})
	require.NoError(t, err)
	token, err := verifier.Sign("user-7", time.Minute)
	require.NoError(t, err)

	var seen string
	handler := Authenticate(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", seen)

	for _, header := range []string{"", "Bearer nope", "Basic " + token} {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Empty(t, seen)
		assert.Contains(t, rec.Body.String(), "User not authenticated")
	}
}

func TestFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user1")
	assert.Equal(t, "user1", FromHeader("X-User-ID")(req))
	assert.Equal(t, "", FromContext(req))
}
