package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agrinova/accessd/internal/platform/httpx"
	"github.com/agrinova/accessd/internal/shared"
)

// Authenticator validates bearer tokens minted by the identity service and
// places the resulting principal on the request context.
type Authenticator struct {
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(logger *slog.Logger, secret string) *Authenticator {
	return &Authenticator{logger: logger, secret: []byte(secret)}
}

// Middleware rejects requests without a valid token. Token subjects are the
// user IDs the engine resolves against.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		subject, err := a.subject(raw)
		if err != nil {
			a.logger.Debug("token rejected", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), &shared.Principal{UserID: subject, Token: raw})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) subject(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return subject, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
