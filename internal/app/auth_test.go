package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/accessd/internal/shared"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func testAuthenticator() *Authenticator {
	return NewAuthenticator(slog.New(slog.NewTextHandler(io.Discard, nil)), testSecret)
}

func TestAuthMiddlewareSetsPrincipal(t *testing.T) {
	auth := testAuthenticator()
	var got *shared.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.PrincipalFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/authz/stats", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "5d9a9cfe-3c2b-4f5e-9a51-0a2d3a1f7b10", time.Hour))
	rec := httptest.NewRecorder()
	auth.Middleware(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "5d9a9cfe-3c2b-4f5e-9a51-0a2d3a1f7b10", got.UserID)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	auth := testAuthenticator()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	cases := map[string]func(r *http.Request){
		"missing header": func(r *http.Request) {},
		"wrong scheme": func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc")
		},
		"wrong secret": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+mintToken(t, "other-secret", "u1", time.Hour))
		},
		"expired": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "u1", -time.Hour))
		},
		"no subject": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "", time.Hour))
		},
	}
	for name, prepare := range cases {
		req := httptest.NewRequest(http.MethodGet, "/authz/stats", nil)
		prepare(req)
		rec := httptest.NewRecorder()
		auth.Middleware(next).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
