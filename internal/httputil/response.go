package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// ErrorBody is the JSON shape of every error response, and what GetJSON
// expects from a failing server.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes data as JSON with the given status code. Responses carry
// live tracker state, so they are marked uncacheable.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Opsf("[httputil] failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a 200 JSON response.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes an ErrorBody with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
