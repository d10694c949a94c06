package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/guard"
	"github.com/atinyakov/grillzstudio/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Auth      *AuthHandler
	Quotes    *QuoteHandler
	Me        *MeHandler
	Admin     *AdminHandler
	Telemetry *TelemetryHandler
}

// RouterConfig carries the cross-cutting pieces of the router.
type RouterConfig struct {
	// Sessions resolves the principal of every request.
	Sessions *middleware.SessionAuth
	// Orders feeds the trap-door flag to the access guard.
	Orders middleware.OrderLookup
	// DesignsPrefix and Designs serve the public designs bucket.
	DesignsPrefix string
	Designs       http.Handler
}

// NewRouter constructs the studio API.
//
// Routes:
//
//	POST /api/quotes, /api/auth/login, /api/auth/logout, /api/auth/magic-link, /api/telemetry
//	GET  /api/auth/magic, /api/session, /api/csrf, /storage/designs/*
//	GET  /api/routes/check
//	GET  /api/me/order                       (guarded as /dashboard)
//	POST /api/me/password                    (guarded as /force-reset)
//	     /api/admin/...                      (guarded as /admin)
//
// Middleware chain (applied in order):
//  1. RequestID
//  2. WithRequestLogging(logger)
//  3. Recoverer
//  4. AllowContentType for JSON and multipart bodies
//  5. SessionAuth
func NewRouter(h Handlers, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	if cfg.Designs != nil {
		r.Handle(cfg.DesignsPrefix+"*", cfg.Designs)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json", "multipart/form-data"))
		r.Use(cfg.Sessions.Handler)

		// Public endpoints
		r.Post("/quotes", h.Quotes.Submit)
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/logout", h.Auth.Logout)
		r.Post("/auth/magic-link", h.Auth.MagicLink)
		r.Get("/auth/magic", h.Auth.VerifyMagicLink)
		r.Get("/session", h.Auth.Session)
		r.Get("/csrf", h.Auth.CSRFToken)
		r.Post("/telemetry", h.Telemetry.Record)
		r.Get("/routes/check", h.Me.CheckRoute)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(cfg.Orders, guard.RouteDashboard, logger))
			r.Get("/me/order", h.Me.MyOrder)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(cfg.Orders, guard.RouteForceReset, logger))
			r.Post("/me/password", h.Me.ChangePassword)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Guard(cfg.Orders, guard.RouteAdmin, logger))

			r.Get("/tickets", h.Admin.Tickets)
			r.Post("/tickets/{email}/approve", h.Admin.Approve)
			r.Post("/tickets/{email}/decline", h.Admin.Decline)
			r.Post("/tickets/{email}/mesh", h.Admin.TicketMesh)

			r.Get("/orders", h.Admin.Orders)
			r.Put("/orders/{email}/stage", h.Admin.SetStage)
			r.Patch("/orders/{email}", h.Admin.UpdateDetails)
			r.Delete("/orders/{email}", h.Admin.Delete)
			r.Post("/orders/{email}/designs", h.Admin.UploadDesign)
			r.Post("/orders/{email}/reset", h.Admin.TriggerReset)
			r.Post("/orders/{email}/mesh", h.Admin.OrderMesh)

			r.Get("/reconcile", h.Admin.Reconcile)
			r.Get("/activity", h.Telemetry.Activity)
			r.Get("/presence", h.Telemetry.SignIns)
		})
	})

	return r
}
