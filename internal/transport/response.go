// Package transport contains the operations HTTP router, its middleware
// chain, and the handlers that expose bootstrap control and installed forms.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/fieldform/model"
)

// statusForCode maps IngestError codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrCodeNotFound:        http.StatusNotFound,
	model.ErrCodeWrongDeployment: http.StatusConflict,
	model.ErrCodeParseDegraded:   http.StatusUnprocessableEntity,
	model.ErrCodeRecoverable:     http.StatusInternalServerError,
}

// ErrorBody is the JSON shape of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as a JSON error response. An *model.IngestError keeps
// its code and message; anything else becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ie *model.IngestError
	if !errors.As(err, &ie) {
		ie = &model.IngestError{Code: "INTERNAL_ERROR", Message: "internal error"}
	}

	status := statusForCode[ie.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error ErrorBody `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ErrorBody{Code: ie.Code, Message: ie.Message}})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}
