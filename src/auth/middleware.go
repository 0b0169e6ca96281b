package auth

import (
	"net/http"
	"strings"
)

// UserHeader names the header the fronting proxy sets after
// authenticating the caller.
const UserHeader = "X-User-Email"

// Middleware lifts the authenticated user identity from the request
// headers into the context. Requests without the header pass through
// anonymously; user-scoped handlers reject them with 401.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(UserHeader)))
		if email != "" {
			r = r.WithContext(WithUser(r.Context(), &User{Email: email}))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests before they reach user-scoped
// handlers.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserFromContext(r.Context()); !ok {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
