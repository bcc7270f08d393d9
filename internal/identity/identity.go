// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	AnonCookieName    = "pf_client_id"
	TabHeaderName     = "X-PriceFinder-Tab-ID"
	DefaultTabIDValue = "default"
	anonCookieMaxAge  = 30 * 24 * time.Hour

	clientIDPrefix   = "c_"
	clientIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	clientIDLength   = 21
)

type contextKey int

const (
	clientIDKey contextKey = iota
	tabIDKey
)

var (
	clientIDPattern = regexp.MustCompile(`^c_[0-9A-Za-z]{21}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ClientIDFromContext extracts the anonymous client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// WithClientID returns a context carrying clientID, for callers outside the middleware.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// NewClientID generates an anonymous client ID.
func NewClientID() (string, error) {
	id, err := gonanoid.Generate(clientIDAlphabet, clientIDLength)
	if err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return clientIDPrefix + id, nil
}

// IsValidClientID reports whether id has the shape produced by NewClientID.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func setClientCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && IsValidClientID(c.Value) {
		setClientCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewClientID()
	if err != nil {
		return "", err
	}
	setClientCookie(w, id, isDev)
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects the anonymous per-device client ID and per-request tab ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			ctx = context.WithValue(ctx, tabIDKey, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
