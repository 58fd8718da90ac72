package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/courier/dm-server/internal/auth"
)

type ctxKey int

const userIDKey ctxKey = 0

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// requestToken extracts the session token from the request: the session
// cookie first, then an Authorization bearer header.
func requestToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// requireAuth resolves the session token to a user ID and stores it on the
// request context. Requests without a valid token get 401.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}

		userID, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "Unauthenticated")
				return
			}
			log.Printf("[httpapi] token verify failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestUserID returns the authenticated user ID placed on the context by
// requireAuth. Empty outside an authenticated handler.
func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
