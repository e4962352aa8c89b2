// Package security provides the thin transport-level guards in front of the
// chat API: bearer-token verification and per-user rate limiting.
package security

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "security.user_id"

// Authenticator verifies HS256 bearer tokens issued by the auth provider and
// exposes the authenticated user id to handlers.
type Authenticator struct {
	secret []byte
}

// NewAuthenticatorFromEnv builds an authenticator from JWT_SECRET.
func NewAuthenticatorFromEnv() (*Authenticator, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}
	return NewAuthenticator([]byte(secret)), nil
}

// NewAuthenticator builds an authenticator with the given signing secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Middleware rejects requests without a valid bearer token and stashes the
// token's subject claim in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeUnauthorized(w)
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			log.Printf("Rejected token on %s: %v", r.URL.Path, err)
			writeUnauthorized(w)
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			log.Printf("Rejected token on %s: missing subject claim", r.URL.Path)
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id for a request, or "" if the
// request did not pass through the middleware.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// WithUserID returns a context carrying the given user id. Intended for
// tests that exercise handlers without the middleware.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": "Unauthorized: Please provide a valid token."})
}
