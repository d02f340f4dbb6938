package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"rentflow/internal/auth"
	"rentflow/internal/maintenance"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Lifecycle is the maintenance engine as seen by HTTP handlers.
type Lifecycle interface {
	Create(ctx context.Context, actor maintenance.Actor, in maintenance.CreateInput) (*maintenance.Job, error)
	RequestQuote(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, providerID uuid.UUID) (*maintenance.Job, error)
	SubmitQuote(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, in maintenance.QuoteInput) (*maintenance.Job, error)
	AssignProvider(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, providerID uuid.UUID) (*maintenance.Job, error)
	ApproveQuote(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, in maintenance.ApproveInput) (*maintenance.Job, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, in maintenance.CompleteInput) (*maintenance.Job, error)
	ConfirmCompletion(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor) (*maintenance.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, reason string) (*maintenance.Job, error)
	Get(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor) (*maintenance.Job, error)
	History(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor) ([]maintenance.Note, error)
	ProposeVisit(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, in maintenance.VisitInput) (*maintenance.VisitProposal, error)
	RespondVisit(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, in maintenance.VisitResponse) (*maintenance.VisitProposal, error)
	Visits(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor) ([]maintenance.VisitProposal, error)
}

type MaintenanceHandler struct {
	Svc Lifecycle
}

type createJobReq struct {
	PropertyID    string   `json:"property_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Priority      string   `json:"priority"`
	EstimatedCost *int64   `json:"estimated_cost"`
	ScheduledDate *string  `json:"scheduled_date"` // RFC3339 optional
	Images        []string `json:"images"`
}

func (h *MaintenanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	propertyID, err := uuid.Parse(strings.TrimSpace(req.PropertyID))
	if err != nil {
		http.Error(w, "invalid property_id", http.StatusBadRequest)
		return
	}

	var scheduled *time.Time
	if req.ScheduledDate != nil && strings.TrimSpace(*req.ScheduledDate) != "" {
		t, err := time.Parse(time.RFC3339, *req.ScheduledDate)
		if err != nil {
			http.Error(w, "invalid scheduled_date (RFC3339)", http.StatusBadRequest)
			return
		}
		scheduled = &t
	}

	job, err := h.Svc.Create(r.Context(), actorFrom(r), maintenance.CreateInput{
		PropertyID:    propertyID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Priority:      maintenance.Priority(strings.ToUpper(strings.TrimSpace(req.Priority))),
		EstimatedCost: req.EstimatedCost,
		ScheduledDate: scheduled,
		Images:        req.Images,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type providerReq struct {
	ProviderID string `json:"provider_id"`
}

func (h *MaintenanceHandler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	h.withProvider(w, r, h.Svc.RequestQuote)
}

func (h *MaintenanceHandler) Assign(w http.ResponseWriter, r *http.Request) {
	h.withProvider(w, r, h.Svc.AssignProvider)
}

type providerOp func(ctx context.Context, jobID uuid.UUID, actor maintenance.Actor, providerID uuid.UUID) (*maintenance.Job, error)

func (h *MaintenanceHandler) withProvider(w http.ResponseWriter, r *http.Request, op providerOp) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req providerReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	providerID, err := uuid.Parse(strings.TrimSpace(req.ProviderID))
	if err != nil {
		http.Error(w, "invalid provider_id", http.StatusBadRequest)
		return
	}
	job, err := op(r.Context(), id, actorFrom(r), providerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type quoteReq struct {
	EstimatedCost int64  `json:"estimated_cost"`
	Note          string `json:"note"`
}

func (h *MaintenanceHandler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req quoteReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	job, err := h.Svc.SubmitQuote(r.Context(), id, actorFrom(r), maintenance.QuoteInput{
		EstimatedCost: req.EstimatedCost,
		Note:          req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type approveReq struct {
	PaymentMethod   string `json:"payment_method"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (h *MaintenanceHandler) ApproveQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req approveReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	job, err := h.Svc.ApproveQuote(r.Context(), id, actorFrom(r), maintenance.ApproveInput{
		PaymentMethod:   req.PaymentMethod,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeReq struct {
	ActualCost *int64   `json:"actual_cost"`
	Notes      string   `json:"notes"`
	Images     []string `json:"images"`
}

func (h *MaintenanceHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req completeReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	job, err := h.Svc.CompleteJob(r.Context(), id, actorFrom(r), maintenance.CompleteInput{
		ActualCost: req.ActualCost,
		Notes:      req.Notes,
		Images:     req.Images,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *MaintenanceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.Svc.ConfirmCompletion(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *MaintenanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req cancelReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	job, err := h.Svc.Cancel(r.Context(), id, actorFrom(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func actorFrom(r *http.Request) maintenance.Actor {
	c, _ := auth.ClaimsFromContext(r.Context())
	return maintenance.Actor{UserID: c.UserID, Admin: c.IsAdmin()}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
