// Package middleware provides HTTP middleware for the PriceFinder servers.
package middleware

import (
	"net/http"
	"strings"
)

var allowedHeaders = strings.Join([]string{"Content-Type", "X-PriceFinder-Tab-ID"}, ", ")

// AllowedOrigins returns the CORS origins for a deployment: any origin in
// development, otherwise only the configured front-end URL.
func AllowedOrigins(frontendURL string, isDev bool) []string {
	if isDev || frontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(frontendURL, "/")}
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			explicit := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
				}
				if o != "*" && o == origin {
					explicit = true
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicit origins; echoing a wildcard
				// match with credentials enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
