package handlers

import (
	"context"
	"net"
	"net/http"
)

// Credential headers.
const (
	HeaderAPIUser = "X-48ix-Api-User"
	HeaderAPIKey  = "X-48ix-Api-Key"
)

type contextKey string

const requestorContextKey contextKey = "requestor"

// RequireRoute returns middleware that authenticates the request headers and
// requires the user to hold a grant for route.
func (a *API) RequireRoute(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := r.Header.Get(HeaderAPIUser)
			password := r.Header.Get(HeaderAPIKey)
			if err := a.cfg.Auth.Verify(r.Context(), username, password, route); err != nil {
				a.writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), requestorContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestorFromContext returns the authenticated username, or "" if there is none.
func RequestorFromContext(ctx context.Context) string {
	username, _ := ctx.Value(requestorContextKey).(string)
	return username
}

// clientIP is the host part of RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
