// Package shield provides the HTTP middleware stack of the blockshot
// control API: security headers, HEAD handling, body limits and request
// ids.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// APIStack returns the middleware for a local JSON API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		RequestID(logger),
	}
}
