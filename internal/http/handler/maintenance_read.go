package handler

import (
	"context"
	"net/http"

	"rentflow/internal/maintenance"
	"rentflow/internal/payment"

	"github.com/google/uuid"
)

// PaymentReader exposes a job's escrow record.
type PaymentReader interface {
	Status(ctx context.Context, jobID uuid.UUID) (*payment.Payment, error)
}

type MaintenanceReadHandler struct {
	Svc      Lifecycle
	Payments PaymentReader
}

type jobDTO struct {
	*maintenance.Job
	Notes string `json:"notes"`
}

func (h *MaintenanceReadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r)

	job, err := h.Svc.Get(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	notes, err := h.Svc.History(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO{Job: job, Notes: maintenance.RenderNotes(notes)})
}

func (h *MaintenanceReadHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	notes, err := h.Svc.History(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []maintenance.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *MaintenanceReadHandler) Payment(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	// only parties of the job may see its payment
	if _, err := h.Svc.Get(r.Context(), id, actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Payments.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
