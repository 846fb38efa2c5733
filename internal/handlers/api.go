package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/classbank/economy/internal/database"
	"github.com/classbank/economy/internal/metrics"
	mW "github.com/classbank/economy/internal/middleware"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// API exposes the economy services over HTTP.
type API struct {
	accounts  *services.AccountService
	ledger    *services.LedgerService
	transfers *services.TransferService
	jobs      *services.JobService
	quests    *services.QuestService
	trading   *services.TradingService
	validator *services.ValidationHelper

	// diagnose is nil when the economy runs on the memory store.
	diagnose func(ctx context.Context) database.Diagnosis
}

type Services struct {
	Accounts  *services.AccountService
	Ledger    *services.LedgerService
	Transfers *services.TransferService
	Jobs      *services.JobService
	Quests    *services.QuestService
	Trading   *services.TradingService
}

func NewAPI(svc Services, diagnose func(ctx context.Context) database.Diagnosis) *API {
	return &API{
		accounts:  svc.Accounts,
		ledger:    svc.Ledger,
		transfers: svc.Transfers,
		jobs:      svc.Jobs,
		quests:    svc.Quests,
		trading:   svc.Trading,
		validator: services.NewValidationHelper(),
		diagnose:  diagnose,
	}
}

type RouterConfig struct {
	Auth           *mW.Authenticator
	Limiter        *mW.RateLimiter
	AllowedOrigins []string
	Timeout        time.Duration
}

func (a *API) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Timeout > 0 {
		r.Use(middleware.Timeout(cfg.Timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", a.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Handler)
		}

		r.Get("/rankings", a.Rankings)

		r.Post("/accounts", a.CreateAccount)
		r.Get("/accounts/me", a.Me)
		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/", a.GetAccount)
			r.Delete("/", a.DeactivateAccount)
			r.Get("/balance", a.GetBalance)
			r.Get("/transactions", a.History)
			r.Get("/reconcile", a.Reconcile)
			r.Put("/job", a.AssignJob)
			r.Delete("/job", a.UnassignJob)
			r.Post("/trades", a.Trade)
			r.Get("/portfolio", a.Portfolio)
			r.Get("/instruments/{instrumentId}/trades", a.StockHistory)
		})

		r.Post("/transfers", a.Transfer)
		r.Post("/transactions/{transactionId}/refund", a.Refund)

		r.Get("/jobs", a.ListJobs)
		r.Post("/jobs", a.CreateJob)
		r.Post("/salaries/run", a.ProcessSalaries)

		r.Get("/quests", a.ListQuests)
		r.Get("/quests/available", a.AvailableQuests)
		r.Post("/quests", a.CreateQuest)
		r.Post("/quests/{questId}/completions", a.SubmitCompletion)
		r.Get("/completions/pending", a.PendingCompletions)
		r.Post("/completions/{completionId}/verify", a.VerifyCompletion)

		r.Get("/instruments", a.ListInstruments)
		r.Post("/instruments", a.AddInstrument)
		r.Post("/instruments/refresh", a.RefreshPrices)
	})

	return r
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if a.diagnose == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "store": "memory"})
		return
	}
	d := a.diagnose(r.Context())
	status, code := "healthy", http.StatusOK
	if !d.Healthy() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "database": d})
}

// actor returns the authenticated caller or answers 401.
func actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := mW.ActorFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return a, ok
}
