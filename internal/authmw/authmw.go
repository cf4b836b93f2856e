// Package authmw provides bearer token authentication for the review API.
package authmw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// Realm is advertised in the WWW-Authenticate challenge.
const Realm = "reviewops"

// BearerToken returns middleware that requires "Authorization: Bearer
// <token>". Comparison is constant-time. An empty token disables the check,
// so the API can run unauthenticated on a trusted network.
func BearerToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				deny(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) ([]byte, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, scheme) {
		return nil, false
	}
	tok := strings.TrimSpace(auth[len(scheme):])
	if tok == "" {
		return nil, false
	}
	return []byte(tok), true
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+Realm+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
