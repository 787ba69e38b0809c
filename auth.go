package twwplus

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// IsAuthorizedRequest checks the bearer token or the token query parameter
// against token. An empty token authorises every request.
func IsAuthorizedRequest(token string, r *http.Request) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok && TokensEqual(strings.TrimSpace(rest), token) {
			return true
		}
	}
	return TokensEqual(strings.TrimSpace(r.URL.Query().Get("token")), token)
}

// TokensEqual compares two tokens in constant time.
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// corsHandler wraps next with permissive CORS headers and no-store caching.
func corsHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
