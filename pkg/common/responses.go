package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	pkgerrors "chat-backend/pkg/errors"
)

// MaxBodyBytes caps request bodies at 1 MiB
const MaxBodyBytes int64 = 1 << 20

// RespondJSON sends data as the JSON response body
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ParseJSONBody decodes the request body into v. An empty body leaves v
// untouched so that field validation reports what is missing.
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError("Request body too large").WithCause(err)
		default:
			return pkgerrors.NewValidationError("Invalid JSON in request body").WithCause(err)
		}
	}
	return nil
}
