package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"authd/internal/lib/sl"
)

// Response is the envelope every API reply is wrapped in.
type Response struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Data       any      `json:"data,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Success    bool     `json:"success"`
}

func OK(w http.ResponseWriter, log *slog.Logger, status int, message string, data any) {
	write(w, log, Response{
		StatusCode: status,
		Message:    message,
		Data:       data,
		Success:    true,
	})
}

func Error(w http.ResponseWriter, log *slog.Logger, status int, message string, fields ...string) {
	write(w, log, Response{
		StatusCode: status,
		Message:    message,
		Errors:     fields,
		Success:    false,
	})
}

func write(w http.ResponseWriter, log *slog.Logger, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to write response", sl.Err(err))
	}
}
