package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"webpilot/internal/action"
	"webpilot/internal/procctl"
	"webpilot/internal/session"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError maps the error classes onto HTTP status codes. Anything outside
// the known classes is an internal error; the service itself never crashes
// from a single command's failure.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, action.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, action.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, action.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrConnectivity):
		return http.StatusBadGateway
	case errors.Is(err, procctl.ErrBinaryNotFound):
		// Validation-class: a retry cannot conjure the executable.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
