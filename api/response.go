package api

import (
	"net/http"

	"github.com/bytedance/sonic"
)

// ErrorResponse represents an error response
// Error: short error message
// Details: optional detailed explanation
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code and data
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	body, err := sonic.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to encode response"}`))
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// WriteError writes an error response with status code and error details
// Details is optional - pass empty string to omit
func WriteError(w http.ResponseWriter, status int, err string, details string) error {
	return WriteJSON(w, status, ErrorResponse{Error: err, Details: details})
}
