package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/gustaflugnegard/FOND-GPT/middleware/http"
	"github.com/gustaflugnegard/FOND-GPT/pkg/auth"
	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

type pingRoutes struct{}

func (pingRoutes) Register(r chi.Router) {
	r.Get("/funds", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mw.UserIDFromContext(r.Context()))
	})
}

func newTestRouter(t *testing.T, health func(context.Context) error) (http.Handler, string) {
	t.Helper()

	verifier, err := auth.NewVerifier(auth.Config{Secret: "router-secret"})
	require.NoError(t, err)
	token, err := verifier.Sign(testUserID, time.Minute)
	require.NoError(t, err)

	h, _ := newTestHandler(t, 5, &stubAnswerer{body: strings.NewReader("svar"), cost: "3"})
	h.config.GetUserID = mw.FromContext

	router := NewRouter(RouterConfig{
		Handler:      h,
		Authenticate: mw.Authenticate(verifier),
		Gate: mw.BalanceGate(mw.Config{
			Store:     h.config.Store,
			Estimator: tokens.NewEstimator(fixedTokenizer(10)),
		}),
		Routes:  []RouteRegistrar{pingRoutes{}},
		Health:  health,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		CORS:    DefaultCORS(),
		Logger:  zerolog.Nop(),
	})
	return router, token
}

func serve(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_RequiresAuth(t *testing.T) {
	router, token := newTestRouter(t, nil)

	for _, path := range []string{"/tokens", "/funds"} {
		rec := serve(router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := serve(router, http.MethodGet, "/tokens", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tokens":5}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/funds", "", token)
	assert.Equal(t, testUserID, rec.Body.String())
}

func TestRouter_GateGuardsAsk(t *testing.T) {
	router, token := newTestRouter(t, nil)

	rec := serve(router, http.MethodPost, "/ask", `{"content":"q"}`, token)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = serve(router, http.MethodPost, "/tokens", `{"action":"add","amount":5}`, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPost, "/ask", `{"content":"q"}`, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "svar", rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get(tokens.HeaderQuestionTokens))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	healthy := true
	router, _ := newTestRouter(t, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("storage unreachable")
	})

	rec := serve(router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = serve(router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "https://fondgpt.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
