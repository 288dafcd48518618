package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/aezcrib/backend/internal/apperrors"
	"github.com/spf13/viper"
)

type contextKey string

const accountIDKey contextKey = "accountID"

// AccountResolver maps a bearer credential to an account id. A credential
// that does not resolve by exact, unexpired session lookup is always
// unauthenticated; resolvers must not guess.
type AccountResolver interface {
	Resolve(ctx context.Context, credential string) (int64, error)
}

// Authenticated rejects any request whose bearer token does not resolve to
// an account. There is no anonymous or default account.
func Authenticated(resolver AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSONError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			accountID, err := resolver.Resolve(r.Context(), parts[1])
			if err != nil {
				if errors.Is(err, apperrors.ErrUnauthenticated) {
					writeJSONError(w, http.StatusUnauthorized, "User not authenticated")
					return
				}
				log.Printf("[AUTH] Credential resolution failed: %v", err)
				writeJSONError(w, http.StatusInternalServerError, "An internal error occurred")
				return
			}

			ctx := ContextWithAccountID(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly guards the manual top-up verification hooks. The token is a
// deployment secret, not a user credential; an empty configured token
// disables the endpoints entirely.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := viper.GetString("admin.token")
		if configured == "" || r.Header.Get("X-Admin-Token") != configured {
			writeJSONError(w, http.StatusUnauthorized, "Admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets baseline response hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// ContextWithAccountID stores the resolved account id on the request context.
func ContextWithAccountID(ctx context.Context, accountID int64) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext returns the account id placed by Authenticated.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
