package http

import (
	"net/http"

	"rentflow/internal/auth"
	"rentflow/internal/config"
	"rentflow/internal/http/handler"
	mw "rentflow/internal/http/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Lifecycle handler.Lifecycle
	Payments  handler.PaymentReader
	JWT       *auth.JWT
	Metrics   http.Handler // nil disables /metrics
}

func NewRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(mw.CORS(cfg))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	me := &handler.MeHandler{}
	r.With(auth.RequireAuth(deps.JWT)).Get("/me", me.Me)

	jobH := &handler.MaintenanceHandler{Svc: deps.Lifecycle}
	jobRead := &handler.MaintenanceReadHandler{Svc: deps.Lifecycle, Payments: deps.Payments}

	r.Route("/maintenance", func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.JWT))

		r.Post("/", jobH.Create)
		r.Get("/{id}", jobRead.Get)
		r.Get("/{id}/history", jobRead.History)
		r.Get("/{id}/payment", jobRead.Payment)
		r.Get("/{id}/visits", jobRead.Visits)

		r.Post("/{id}/quote-request", jobH.RequestQuote)
		r.Post("/{id}/quote", jobH.SubmitQuote)
		r.Post("/{id}/approve-quote", jobH.ApproveQuote)
		r.Post("/{id}/assign", jobH.Assign)
		r.Post("/{id}/complete", jobH.Complete)
		r.Post("/{id}/confirm", jobH.Confirm)
		r.Post("/{id}/cancel", jobH.Cancel)
		r.Post("/{id}/visits", jobH.ProposeVisit)
		r.Post("/{id}/visits/{visitId}/respond", jobH.RespondVisit)
	})

	return r
}
