package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// DefaultUserEmail is the identity every non-empty token maps to outside test mode.
const DefaultUserEmail = "test@example.com"

var errEmptyToken = errors.New("token is empty")

// RequireAuth returns middleware that checks for a bearer token in the Authorization
// header, validates it and stores the user's email in the request context. Requests
// without a valid token get 401.
func RequireAuth(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Debug().Str("path", r.URL.Path).Msg("Missing or malformed Authorization header")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userEmail, err := ValidateToken(token)
			if err != nil {
				log.Debug().Err(err).Msg("Token validation failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserEmailKey, userEmail)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken parses "Bearer <token>". The scheme is case-insensitive (RFC 7235).
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}

// ValidateToken validates the token and returns the user's email.
// Identity is delegated to the fronting proxy, so any non-empty token maps to
// DefaultUserEmail. In test mode (MAILSYNC_TEST_MODE=true) a token of the form
// "email:user@example.com" selects that user instead.
func ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || token == "email:" {
		return "", errEmptyToken
	}

	if os.Getenv("MAILSYNC_TEST_MODE") == "true" {
		if email, ok := strings.CutPrefix(token, "email:"); ok && email != "" {
			return email, nil
		}
	}

	return DefaultUserEmail, nil
}
