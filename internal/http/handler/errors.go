package handler

import (
	"errors"
	"net/http"

	"rentflow/internal/maintenance"
	"rentflow/internal/payment"
)

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, maintenance.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, maintenance.ErrNotFound), errors.Is(err, payment.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, maintenance.ErrAlreadyCompleted):
		http.Error(w, "already completed", http.StatusConflict)
	case errors.Is(err, maintenance.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, maintenance.ErrInvalidProviderState), errors.Is(err, maintenance.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
