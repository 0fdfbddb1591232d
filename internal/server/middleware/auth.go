package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey returns middleware requiring a static key on every request,
// presented either as "Authorization: Bearer <key>" or in the X-API-Key
// header. An empty configured key leaves the API open, which suits local
// single-operator deployments.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedKey(r)
			if got == "" {
				deny(w, "authentication required")
				return
			}
			// Constant-time compare so latency does not reveal how much
			// of the key matched.
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				deny(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, rest, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
