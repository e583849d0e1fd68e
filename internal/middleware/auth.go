package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	// PassTokenContextKey holds the ApplePass bearer token for the request
	PassTokenContextKey contextKey = "passToken"
)

// ApplePassScheme is the authorization scheme the wallet protocol uses
const ApplePassScheme = "ApplePass "

// GetPassToken retrieves the ApplePass authentication token from context
func GetPassToken(ctx context.Context) string {
	if token, ok := ctx.Value(PassTokenContextKey).(string); ok {
		return token
	}
	return ""
}

// ApplePassAuth extracts the `Authorization: ApplePass <token>` credential
// into the request context. It rejects requests with a missing or malformed
// header outright; whether the token actually matches the addressed pass is
// decided by the service layer, which owns the pass lookup.
func ApplePassAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, ApplePassScheme)
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "ApplePass authorization is required."})
				return
			}

			ctx := context.WithValue(r.Context(), PassTokenContextKey, strings.TrimSpace(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyAuth creates middleware for admin API key authentication
func APIKeyAuth(apiKey, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			providedKey := r.Header.Get(headerName)
			if providedKey == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "API key is required."})
				return
			}

			// Constant-time comparison to prevent timing attacks
			if !ConstantTimeEquals(apiKey, providedKey) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Invalid API key."})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ConstantTimeEquals performs a constant-time string comparison
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
