package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps domain errors onto status codes. Unexpected errors
// are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, coupleplay.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, coupleplay.ErrNotConfigured.Error())
	case errors.Is(err, coupleplay.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coupleplay.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coupleplay.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
