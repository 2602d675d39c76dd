// Package httpapi holds the JSON response conventions shared by every API controller.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nzwater/compliance-core/pkg/composables"
)

const ContentTypeJSON = "application/json; charset=utf-8"

// ErrorEnvelope is the body of every API error. Meta carries request correlation, Details carries
// machine-readable context such as field errors or a completeness report.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// WriteJSON writes payload with status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	h := w.Header()
	h.Set("Content-Type", ContentTypeJSON)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// RequestMeta returns the correlation meta for r, or nil outside the logging middleware.
func RequestMeta(r *http.Request) map[string]string {
	if id := composables.UseRequestID(r.Context()); id != "" {
		return map[string]string{"request_id": id}
	}
	return nil
}

// NotFound renders unmatched routes in the error envelope.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found", RequestMeta(r))
	})
}

// MethodNotAllowed renders a known route hit with the wrong verb.
func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", RequestMeta(r))
	})
}
