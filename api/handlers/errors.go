package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/48ix/stats/pkg/statserr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Level string `json:"level"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs the full error and returns a user-safe message.
// Untyped errors never reach the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statserr.Log(r.Context(), a.log, "api: request failed", err,
		"method", r.Method, "path", r.URL.Path, "client_ip", clientIP(r))

	msg := "internal server error"
	var e *statserr.Error
	if errors.As(err, &e) {
		msg = SanitizeError(errors.New(e.Message))
	}
	writeJSON(w, statserr.HTTPStatus(err), ErrorResponse{Error: msg, Level: string(statserr.LevelOf(err))})
}

var (
	urlUserinfo = regexp.MustCompile(`://[^/@\s'"]+@`)
	urlQuery    = regexp.MustCompile(`\?[^\s'"=]+=[^\s'"]*`)
)

// SanitizeError masks URL credentials and query strings, which may carry
// passwords or raw InfluxQL, in an error message.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := urlUserinfo.ReplaceAllString(err.Error(), "://***@")
	return urlQuery.ReplaceAllString(msg, "?...")
}
