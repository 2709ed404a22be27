// Package shared holds response helpers used by every HTTP handler so error
// envelopes stay consistent across the API surface.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "sigillum/pkg/domain-errors"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes the classified error as a JSON envelope, mapping the
// code to a transport status.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.GetCode(err)
	WriteJSON(w, dErrors.ToHTTPStatus(code), ErrorResponse{
		Error: ErrorBody{Code: string(code), Message: err.Error()},
	})
}
