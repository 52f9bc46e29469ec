/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Bearer JWT on /api (when a secret is configured)

ROUTE GROUPS:
  /api/certificates/{code}  Public verification (no auth)
  /api/users/*              Users, balances, history
  /api/spend/*              Authorize, commit, refund
  /api/courses/*, /api/products/*, /api/merchants/*, /api/enrollments/*
  /api/admin/*              Grants, reports (admin)
  /api/settlements/*        Revenue sharing (admin)
  /api/scenarios/*          Demo scenarios (admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authentication and role guards
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sportcoin/coin-engine/coin"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Get("/certificates/{code}", h.VerifyCertificate)

		r.Group(func(r chi.Router) {
			if h.auth != nil {
				r.Use(h.auth.Middleware)
			}

			// Registration of admins is checked in the handler.
			r.Post("/users", h.RegisterUser)

			// User routes
			r.Route("/users/{id}", func(r chi.Router) {
				r.Use(h.requireSelf)
				r.Get("/", h.GetUser)
				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/summary", h.GetSummary)
				r.Get("/reconciliation", h.GetReconciliation)
				r.Get("/enrollments", h.ListUserEnrollments)
			})

			// Spend routes
			r.Route("/spend", func(r chi.Router) {
				r.Post("/authorize", h.AuthorizeSpend)
				r.Post("/commit", h.CommitSpend)
				r.Post("/refund", h.RefundSpend)
			})

			// Catalog routes
			r.Route("/courses", func(r chi.Router) {
				r.With(h.requireRole(coin.RoleTeacher)).Post("/", h.CreateCourse)
				r.Get("/{id}", h.GetCourse)
				r.Post("/{id}/enroll", h.EnrollCourse)
			})
			r.Route("/products", func(r chi.Router) {
				r.With(h.requireRole(coin.RoleStore)).Post("/", h.CreateProduct)
				r.Get("/{id}", h.GetProduct)
				r.Post("/{id}/redeem", h.RedeemProduct)
			})
			r.Route("/merchants", func(r chi.Router) {
				r.With(h.requireRole(coin.RoleStore)).Post("/", h.CreateMerchant)
				r.Get("/{id}", h.GetMerchant)
				r.With(h.requireRole(coin.RoleStore)).Post("/{id}/sales", h.RecordSale)
				r.With(h.requireRole()).Post("/{id}/fees", h.RecordMerchantFee)
				r.With(h.requireRole(coin.RoleStore)).Get("/{id}/fees", h.ListMerchantFees)
			})

			// Enrollment routes
			r.Route("/enrollments/{id}", func(r chi.Router) {
				r.Get("/", h.GetEnrollment)
				r.With(h.requireRole(coin.RoleTeacher)).Post("/completion", h.UpdateCompletion)
				r.With(h.requireRole(coin.RoleTeacher)).Post("/certificate", h.IssueCertificate)
				r.With(h.requireRole()).Post("/cancel", h.CancelEnrollment)
			})

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireRole())
				r.Post("/grants", h.GrantCoins)
				r.Get("/reports/coins", h.CoinReport)
			})

			// Settlement routes
			r.Route("/settlements", func(r chi.Router) {
				r.Use(h.requireRole())
				r.Post("/", h.StartSettlement)
				r.Get("/", h.ListSettlements)
				r.Get("/preview", h.PreviewSettlements)
				r.Post("/run", h.RunSettlements)
				r.Get("/{id}", h.GetSettlement)
				r.Post("/{id}/advance", h.AdvanceSettlement)
			})

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(h.requireRole())
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r
}
