package picker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/blockshot/kit"
	"github.com/hazyhaar/blockshot/shield"
)

// Routes returns the HTTP control API:
//
//	GET    /health
//	GET    /status
//	POST   /session          start a picking session
//	DELETE /session          end it and restore the page
//	GET    /exports?limit=N  export history, newest first
func Routes(c Controller, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ep := makeEndpoints(c, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", serve(ep.status, nil))
	r.Post("/session", serve(ep.activate, nil))
	r.Delete("/session", serve(ep.deactivate, nil))
	r.Get("/exports", serve(ep.history, func(r *http.Request) any {
		return &historyRequest{Limit: queryInt(r, "limit", 0)}
	}))
	return r
}

// serve adapts an endpoint to chi. decode may be nil.
func serve(e kit.Endpoint, decode func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")

		var req any
		if decode != nil {
			req = decode(r)
		}
		resp, err := e(ctx, req)
		if err != nil {
			code := statusFor(err)
			if code == http.StatusInternalServerError {
				shield.GetLogger(ctx).Error("picker: request failed", "error", err)
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoPage):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoHistory):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
