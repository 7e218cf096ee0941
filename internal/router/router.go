package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"

	"github.com/taskbazaar/backend/internal/auth"
	"github.com/taskbazaar/backend/internal/handlers"
	"github.com/taskbazaar/backend/internal/middleware"
	"github.com/taskbazaar/backend/internal/models"
)

// Deps are the handlers and collaborators the API is assembled from.
type Deps struct {
	Auth        *auth.Handler
	Tokens      middleware.TokenValidator
	Accounts    *handlers.AccountHandler
	Tasks       *handlers.TaskHandler
	Orders      *handlers.OrderHandler
	Withdrawals *handlers.WithdrawalHandler

	// Redis is optional; without it POSTs are not deduplicated.
	Redis          redis.Cmdable
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", handlers.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", d.Auth.Register)
		r.Post("/auth/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ActorAuth(d.Tokens))
			r.Use(middleware.Idempotency(d.Redis, d.IdempotencyTTL, d.Logger))

			r.Get("/accounts/me", d.Accounts.Me)
			r.Get("/accounts/me/records", d.Accounts.MyRecords)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", d.Tasks.List)
				r.With(middleware.RequireRole(models.RoleMerchant)).Post("/", d.Tasks.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", d.Tasks.Get)
					r.With(middleware.RequireRole(models.RoleMerchant, models.RoleAdmin)).Group(func(r chi.Router) {
						r.Post("/publish", d.Tasks.Publish)
						r.Post("/replenish", d.Tasks.Replenish)
						r.Post("/cancel", d.Tasks.Cancel)
						r.Get("/orders", d.Tasks.Orders)
					})
					r.With(middleware.RequireRole(models.RoleBuyer)).Post("/claim", d.Tasks.Claim)
				})
			})

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RequireRole(models.RoleBuyer)).Get("/", d.Orders.ListMine)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", d.Orders.Get)
					r.With(middleware.RequireRole(models.RoleBuyer)).Post("/steps", d.Orders.SubmitStep)
					r.With(middleware.RequireRole(models.RoleMerchant, models.RoleAdmin)).Post("/approve", d.Orders.Approve)
					r.With(middleware.RequireRole(models.RoleMerchant, models.RoleAdmin)).Post("/reject", d.Orders.Reject)
					r.With(middleware.RequireRole(models.RoleBuyer, models.RoleAdmin)).Post("/cancel", d.Orders.Cancel)
				})
			})

			r.Route("/withdrawals", func(r chi.Router) {
				r.With(middleware.RequireRole(models.RoleBuyer, models.RoleMerchant)).Post("/", d.Withdrawals.Request)
				r.Get("/", d.Withdrawals.ListMine)
				r.Get("/{id}", d.Withdrawals.Get)
				r.With(middleware.RequireRole(models.RoleAdmin)).Post("/{id}/approve", d.Withdrawals.Approve)
				r.With(middleware.RequireRole(models.RoleAdmin)).Post("/{id}/reject", d.Withdrawals.Reject)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Get("/accounts/{id}", d.Accounts.Get)
				r.Post("/accounts/{id}/deposits", d.Accounts.Deposit)
				r.Get("/accounts/{id}/reconcile", d.Accounts.Reconcile)
				r.Get("/records", d.Accounts.CorrelatedRecords)
				r.Get("/withdrawals", d.Withdrawals.ListPending)
			})
		})
	})

	return r
}
