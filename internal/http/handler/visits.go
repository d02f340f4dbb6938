package handler

import (
	"net/http"
	"strings"
	"time"

	"rentflow/internal/maintenance"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type visitReq struct {
	ScheduledAt     string `json:"scheduled_at"` // RFC3339
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
}

func (req visitReq) input() (maintenance.VisitInput, bool) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return maintenance.VisitInput{}, false
	}
	return maintenance.VisitInput{ScheduledAt: at, DurationMinutes: req.DurationMinutes, Notes: req.Notes}, true
}

func (h *MaintenanceHandler) ProposeVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req visitReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	in, ok := req.input()
	if !ok {
		http.Error(w, "invalid scheduled_at (RFC3339)", http.StatusBadRequest)
		return
	}
	v, err := h.Svc.ProposeVisit(r.Context(), id, actorFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// respondVisitReq accepts the proposal, or with action "propose" rejects it
// and offers the embedded date instead.
type respondVisitReq struct {
	Action string `json:"action"`
	visitReq
}

func (h *MaintenanceHandler) RespondVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	visitID, err := uuid.Parse(chi.URLParam(r, "visitId"))
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	var req respondVisitReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	resp := maintenance.VisitResponse{ProposalID: visitID}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "accept":
		resp.Accept = true
	case "propose":
		in, ok := req.input()
		if !ok {
			http.Error(w, "invalid scheduled_at (RFC3339)", http.StatusBadRequest)
			return
		}
		resp.Counter = in
	default:
		http.Error(w, "action must be accept or propose", http.StatusBadRequest)
		return
	}

	v, err := h.Svc.RespondVisit(r.Context(), id, actorFrom(r), resp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *MaintenanceReadHandler) Visits(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	visits, err := h.Svc.Visits(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if visits == nil {
		visits = []maintenance.VisitProposal{}
	}
	writeJSON(w, http.StatusOK, visits)
}
