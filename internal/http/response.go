package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"paghetta/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses: validation failures
// are 422, missing accounts 404, replayed allowance credits 409, and
// anything else is an internal error with the detail kept in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrNameTooLong),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrNegativeRate),
		errors.Is(err, core.ErrNegativeBalance),
		errors.Is(err, core.ErrZeroAdjustment),
		errors.Is(err, core.ErrNoteTooLong),
		errors.Is(err, core.ErrUnknownKind):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: core.ErrAccountNotFound.Error()})
	case errors.Is(err, core.ErrPeriodAlreadyPaid):
		writeJSON(w, http.StatusConflict, errorResponse{Error: core.ErrPeriodAlreadyPaid.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err, "method", r.Method, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}
