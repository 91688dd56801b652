package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAuthError writes an AuthError with the status code for its kind.
func WriteAuthError(w http.ResponseWriter, ae *domainauth.AuthError) {
	WriteJSON(w, StatusForKind(ae.Kind), map[string]any{"error": ae})
}

// StatusForKind maps an auth error kind onto an HTTP status.
func StatusForKind(kind domainauth.ErrorKind) int {
	switch kind {
	case domainauth.KindInvalidRequest:
		return http.StatusBadRequest
	case domainauth.KindInvalidCredentials:
		return http.StatusUnauthorized
	case domainauth.KindInsufficientRole:
		return http.StatusForbidden
	case domainauth.KindSuperseded:
		return http.StatusConflict
	case domainauth.KindCorruptState:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}
