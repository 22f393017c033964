// Package httpx holds the JSON response helpers shared by the HTTP handlers
// and the single mapping from domain errors to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error           string `json:"error"`
	CurrentStatus   string `json:"current_status,omitempty"`
	RequestedStatus string `json:"requested_status,omitempty"`
}

// WriteError maps err onto a response. Ledger inconsistencies and unknown
// errors are logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	var te *models.TransitionError
	var se *models.StateError
	switch {
	case errors.As(err, &te):
		WriteJSON(w, http.StatusConflict, errorBody{Error: te.Error(), CurrentStatus: te.Current, RequestedStatus: te.Requested})
	case errors.As(err, &se):
		WriteJSON(w, http.StatusConflict, errorBody{Error: se.Error(), CurrentStatus: se.Current, RequestedStatus: se.Requested})
	case errors.Is(err, models.ErrValidation):
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrPermissionDenied):
		WriteJSON(w, http.StatusForbidden, errorBody{Error: models.ErrPermissionDenied.Error()})
	case errors.Is(err, models.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, errorBody{Error: models.ErrNotFound.Error()})
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrInvalidTransition):
		WriteJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrLedgerInconsistency):
		log.Error("ledger inconsistency", "error", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	default:
		log.Error("request failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// PathID parses the {name} path value as a UUID.
func PathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, models.Validationf("invalid %s", name)
	}
	return id, nil
}

// DecodeJSON decodes an optional JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return models.Validationf("invalid JSON body")
	}
	return nil
}
