// Package middleware carries the HTTP middleware shared by the FinSight API
// routes. Authentication is bearer-token only: the token resolves to the
// tenant that owns every record touched downstream, so nothing past this
// layer trusts a user id from a request body or path.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// contextKey keeps our context values from colliding with other packages'.
type contextKey string

const userIDKey contextKey = "userID"

// TokenValidator resolves a bearer token to its claims. The server's JWT
// service satisfies it through an adapter.
type TokenValidator interface {
	ValidateToken(token string) (UserIDGetter, error)
}

// UserIDGetter exposes the user id carried by validated token claims.
type UserIDGetter interface {
	GetUserID() uuid.UUID
}

// AuthMiddleware rejects requests without a valid bearer token and places
// the token's user id in the request context for the handlers.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.GetUserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken pulls the token out of an Authorization header. The scheme is
// matched case-insensitively; anything but "Bearer <token>" is rejected.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// GetUserID returns the authenticated user id placed in the request context
// by AuthMiddleware.
func GetUserID(r *http.Request) (uuid.UUID, error) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("no authenticated user in request context")
	}
	return id, nil
}
