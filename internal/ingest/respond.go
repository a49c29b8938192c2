package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Submission statuses returned in the "status" field.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// SubmitResponse is the body of every POST /measurements reply that passed
// authentication.
type SubmitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}
