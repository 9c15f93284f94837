package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorBody is the JSON shape of every error response. Stale rejections
// additionally carry the authoritative revision and payload so the device
// can reconcile without another round trip.
type ErrorBody struct {
	Code            string          `json:"code"`
	Message         string          `json:"message"`
	CurrentRevision int64           `json:"current_revision,omitempty"`
	CurrentPayload  json.RawMessage `json:"current_payload,omitempty"`
}

// RespondError writes a JSON error response, mapping domain.AppError codes
// to HTTP status.
func RespondError(w http.ResponseWriter, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		RespondJSON(w, appErr.Status, ErrorBody{Code: appErr.Code, Message: appErr.Message})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, ErrorBody{
		Code:    domain.CodeInternal,
		Message: "internal server error",
	})
}

// DecodeJSON reads and decodes a JSON request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
